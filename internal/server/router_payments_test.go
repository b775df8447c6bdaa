package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
)

type extensionResponse struct {
	Success   bool   `json:"success"`
	Outcome   string `json:"outcome"`
	Balance   string `json:"balance"`
	Error     string `json:"error"`
	Required  string `json:"required"`
	Available string `json:"available"`
}

func TestExtendPhotosChargesOwnerOnce(t *testing.T) {
	fixture := newServerFixture(t)
	codeUUID := fixture.issueCode(t)
	fixture.claim(t, codeUUID, "owner@example.com", 5)
	client := fixture.clientOf(t, codeUUID)
	fixture.setBalance(t, client, 50000)
	owner := fixture.sessionCookie(t, client)

	first := fixture.serve(httptest.NewRequest(http.MethodPost, "/person/code/"+codeUUID+"/extend-photos", http.NoBody), owner)
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", first.Code, first.Body.String())
	}
	var response extensionResponse
	decodeJSON(t, first, &response)
	if !response.Success || response.Outcome != "extended" || response.Balance != "0.00" {
		t.Fatalf("unexpected extension response: %+v", response)
	}

	second := fixture.serve(httptest.NewRequest(http.MethodPost, "/person/code/"+codeUUID+"/upgrade-photo-limit", http.NoBody), owner)
	var repeated extensionResponse
	decodeJSON(t, second, &repeated)
	if second.Code != http.StatusOK || repeated.Outcome != "already_extended" {
		t.Fatalf("expected an idempotent second call, got %d %+v", second.Code, repeated)
	}

	limit := fixture.serve(httptest.NewRequest(http.MethodGet, "/person/check-upload-limit/"+codeUUID, http.NoBody))
	var status quotaResponseBody
	decodeJSON(t, limit, &status)
	if !status.CanUpload || !status.IsExtended {
		t.Fatalf("expected uploads to be unlocked, got %+v", status)
	}

	upload := fixture.serve(multipartRequest(t, http.MethodPost, "/person/code/"+codeUUID, map[string]string{"uploadType": "archive"}, formFile{field: "archive[]", name: "sixth.jpg"}), owner)
	if upload.Code != http.StatusOK {
		t.Fatalf("expected the sixth photo to be accepted, got %d %s", upload.Code, upload.Body.String())
	}

	balance := fixture.serve(httptest.NewRequest(http.MethodGet, "/person/balance", http.NoBody), owner)
	var ledger struct {
		Balance      string `json:"balance"`
		Transactions []struct {
			Kind   string `json:"kind"`
			Amount string `json:"amount"`
		} `json:"transactions"`
	}
	decodeJSON(t, balance, &ledger)
	if ledger.Balance != "0.00" || len(ledger.Transactions) != 1 || ledger.Transactions[0].Kind != "photo_extension" || ledger.Transactions[0].Amount != "-500.00" {
		t.Fatalf("unexpected balance view: %+v", ledger)
	}
}

func TestExtendPhotosReportsInsufficientFunds(t *testing.T) {
	fixture := newServerFixture(t)
	codeUUID := fixture.issueCode(t)
	fixture.claim(t, codeUUID, "owner@example.com", 0)
	client := fixture.clientOf(t, codeUUID)
	fixture.setBalance(t, client, 49999)

	recorder := fixture.serve(httptest.NewRequest(http.MethodPost, "/person/code/"+codeUUID+"/extend-photos", http.NoBody), fixture.sessionCookie(t, client))
	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", recorder.Code)
	}
	var response extensionResponse
	decodeJSON(t, recorder, &response)
	if response.Success || response.Error != "insufficient_funds" || response.Required != "500.00" || response.Available != "499.99" {
		t.Fatalf("unexpected insufficient funds payload: %+v", response)
	}
}

func TestExtendPhotosRequiresOwner(t *testing.T) {
	fixture := newServerFixture(t)
	codeUUID := fixture.issueCode(t)
	fixture.claim(t, codeUUID, "owner@example.com", 0)

	anonymous := fixture.serve(httptest.NewRequest(http.MethodPost, "/person/code/"+codeUUID+"/extend-photos", http.NoBody))
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", anonymous.Code)
	}
	stranger := fixture.user(t, "stranger@example.com", users.RoleMember)
	forbidden := fixture.serve(httptest.NewRequest(http.MethodPost, "/person/code/"+codeUUID+"/extend-photos", http.NoBody), fixture.sessionCookie(t, stranger))
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", forbidden.Code)
	}
	printed := fixture.issueCode(t)
	missing := fixture.serve(httptest.NewRequest(http.MethodPost, "/person/code/"+printed+"/extend-photos", http.NoBody), fixture.sessionCookie(t, stranger))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a code without memory, got %d", missing.Code)
	}
}

func TestClaimWithExtensionFlagChargesWhenFunded(t *testing.T) {
	fixture := newServerFixture(t)
	client := fixture.user(t, "rich@example.com", users.RoleMember)
	fixture.setBalance(t, client, 100000)
	codeUUID := fixture.issueCode(t)

	recorder := fixture.serve(multipartRequest(t, http.MethodPost, "/person/code/"+codeUUID, map[string]string{
		"email":              "rich@example.com",
		"wantPhotoExtension": "1",
	}, formFile{field: "avatar", name: "main.jpg"}))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected claim status: %d %s", recorder.Code, recorder.Body.String())
	}
	var response uploadResponse
	decodeJSON(t, recorder, &response)
	if response.Extension != "extended" || !response.Memory.IsExtended {
		t.Fatalf("expected the claim to extend the archive, got %+v", response)
	}

	poor := fixture.issueCode(t)
	broke := fixture.serve(multipartRequest(t, http.MethodPost, "/person/code/"+poor, map[string]string{
		"email":              "broke@example.com",
		"wantPhotoExtension": "1",
	}))
	if broke.Code != http.StatusCreated {
		t.Fatalf("expected the claim to succeed without funds, got %d", broke.Code)
	}
	decodeJSON(t, broke, &response)
	if response.Extension != "insufficient_funds" || response.Memory.IsExtended {
		t.Fatalf("unexpected extension outcome: %+v", response)
	}
}
