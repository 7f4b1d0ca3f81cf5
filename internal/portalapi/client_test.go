package portalapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"relief_portal_backend/platform/logger"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", token, time.Second, logger.Nop())
}

func TestListMissingPersons(t *testing.T) {
	var gotAuth, gotPath string
	c := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[
			{"id":1,"full_name":"Asha","last_seen_location":"Panaji, Goa","state":"Goa","district":"North Goa","is_found":false,"created_at":"2024-07-01T10:00:00Z"},
			{"id":2,"full_name":"Ravi","last_seen_location":"Margao, Goa","state":"Goa","district":"South Goa","is_found":true,"created_at":"2024-07-02T10:00:00Z","agency":7}
		]`))
	})

	records, err := c.ListMissingPersons(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Token secret" {
		t.Fatalf("expected token auth header, got %q", gotAuth)
	}
	if gotPath != "/missing-persons/" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].LastSeenLocation != "Panaji, Goa" || records[0].IsFound {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if records[1].AgencyID == nil || *records[1].AgencyID != 7 {
		t.Fatalf("expected agency 7 on second record")
	}
}

func TestListMissingPersonsPaginatedEnvelope(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no auth header without a token")
		}
		_, _ = w.Write([]byte(`{"count":1,"results":[{"id":5,"full_name":"Meera"}]}`))
	})

	records, err := c.ListMissingPersons(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != 5 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestListMissingPersonsFollowsNextLinks(t *testing.T) {
	var pages []string
	c := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			t.Errorf("expected token auth header on page %q", r.URL.RawQuery)
		}
		pages = append(pages, r.URL.RequestURI())
		switch r.URL.Query().Get("page") {
		case "":
			_, _ = w.Write([]byte(`{"count":3,"next":"http://` + r.Host + `/missing-persons/?page=2","results":[{"id":1,"full_name":"Asha"}]}`))
		case "2":
			_, _ = w.Write([]byte(`{"count":3,"next":"/missing-persons/?page=3","results":[{"id":2,"full_name":"Ravi"}]}`))
		default:
			_, _ = w.Write([]byte(`{"count":3,"next":null,"results":[{"id":3,"full_name":"Meera"}]}`))
		}
	})

	records, err := c.ListMissingPersons(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected records from all pages, got %d", len(records))
	}
	for i, want := range []int64{1, 2, 3} {
		if records[i].ID != want {
			t.Fatalf("record %d: expected id %d, got %d", i, want, records[i].ID)
		}
	}
	if len(pages) != 3 || pages[1] != "/missing-persons/?page=2" || pages[2] != "/missing-persons/?page=3" {
		t.Fatalf("unexpected page requests %v", pages)
	}
}

func TestListMissingPersonsRejectsSelfReferencingNext(t *testing.T) {
	var calls int
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"next":"/missing-persons/","results":[{"id":1}]}`))
	})

	_, err := c.ListMissingPersons(context.Background())
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
}

func TestListMissingPersonsStopsAfterMaxPages(t *testing.T) {
	var calls int
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"next":"/missing-persons/?page=` + strconv.Itoa(calls+1) + `","results":[]}`))
	})

	_, err := c.ListMissingPersons(context.Background())
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if calls != maxPages {
		t.Fatalf("expected %d requests, got %d", maxPages, calls)
	}
}

func TestGetMissingPersonNotFound(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/missing-persons/42/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetMissingPerson(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAgencyProfile(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agency-profiles/7/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":7,"name":"Goa Relief","state":"Goa","district":"North Goa"}`))
	})

	agency, err := c.GetAgencyProfile(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agency.State != "Goa" || agency.District != "North Goa" {
		t.Fatalf("unexpected agency %+v", agency)
	}
}

func TestUpstreamFailuresWrapFetchFailed(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := c.ListMissingPersons(context.Background()); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if _, err := c.GetAgencyProfile(context.Background(), 1); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestMalformedPayloadIsFetchFailure(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	if _, err := c.ListMissingPersons(context.Background()); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestGetMissingPersonCleansFreeText(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":3,"full_name":"<b>Meera</b>  Dessai","last_seen_location":"Margao,\n Goa","description":"<script>x</script>wears a red scarf","contact_number":"98220 12345"}`))
	})

	record, err := c.GetMissingPerson(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.FullName != "Meera Dessai" || record.LastSeenLocation != "Margao, Goa" {
		t.Fatalf("markup survived: %+v", record)
	}
	if record.Description != "xwears a red scarf" {
		t.Fatalf("unexpected description %q", record.Description)
	}
	if record.ContactNumber != "+919822012345" {
		t.Fatalf("expected E.164 contact number, got %q", record.ContactNumber)
	}
}
