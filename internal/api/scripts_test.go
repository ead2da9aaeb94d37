package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/macroforge-core/internal/auth"
	"github.com/nerrad567/macroforge-core/internal/macro"
)

func TestScripts_CRUD(t *testing.T) {
	e := newTestEnv(t, testSecret)
	admin := tokenFor(t, auth.RoleAdmin)

	w := e.do(t, http.MethodPost, "/api/v1/scripts",
		`{"name":"login","description":"open app","steps":[{"type":"tap","x":10,"y":20},{"type":"wait","duration_ms":50}]}`, admin)
	expectStatus(t, w, http.StatusCreated)
	created := decode[macro.Script](t, w)
	if created.ID == "" || created.Version != 1 || len(created.Steps) != 2 {
		t.Fatalf("created = %+v", created)
	}

	// By ID and by name.
	for _, ref := range []string{created.ID, "login"} {
		w = e.do(t, http.MethodGet, "/api/v1/scripts/"+ref, "", admin)
		expectStatus(t, w, http.StatusOK)
		if got := decode[macro.Script](t, w); got.ID != created.ID {
			t.Errorf("GET %s returned %s", ref, got.ID)
		}
	}

	w = e.do(t, http.MethodPut, "/api/v1/scripts/"+created.ID,
		`{"name":"login","steps":[{"type":"tap","x":11,"y":21}]}`, admin)
	expectStatus(t, w, http.StatusOK)
	updated := decode[macro.Script](t, w)
	if updated.Version != 2 || len(updated.Steps) != 1 {
		t.Errorf("updated = %+v", updated)
	}

	w = e.do(t, http.MethodGet, "/api/v1/scripts", "", admin)
	expectStatus(t, w, http.StatusOK)
	list := decode[struct {
		Scripts []macro.Script `json:"scripts"`
		Count   int            `json:"count"`
	}](t, w)
	if list.Count != 1 || list.Scripts[0].Version != 2 {
		t.Errorf("list = %+v", list)
	}

	w = e.do(t, http.MethodDelete, "/api/v1/scripts/"+created.ID, "", admin)
	expectStatus(t, w, http.StatusNoContent)

	w = e.do(t, http.MethodGet, "/api/v1/scripts/"+created.ID, "", admin)
	expectStatus(t, w, http.StatusNotFound)
}

func TestScripts_CreateYAML(t *testing.T) {
	e := newTestEnv(t, testSecret)

	doc := `name: yaml-script
steps:
  - type: tap
    x: 5
    y: 6
  - type: key_press
    keycode: 4
`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scripts", strings.NewReader(doc))
	req.Header.Set("Content-Type", "application/yaml")
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, auth.RoleAdmin))
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	expectStatus(t, w, http.StatusCreated)
	if s := decode[macro.Script](t, w); len(s.Steps) != 2 || s.Steps[1].Type() != macro.StepKeyPress {
		t.Errorf("created = %+v", s)
	}
}

func TestScripts_Errors(t *testing.T) {
	e := newTestEnv(t, testSecret)
	admin := tokenFor(t, auth.RoleAdmin)
	createScript(t, e, "taken", tapStep(1, 1))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid JSON", http.MethodPost, "/api/v1/scripts", "not json", http.StatusBadRequest},
		{"unknown step type", http.MethodPost, "/api/v1/scripts", `{"name":"x","steps":[{"type":"dance"}]}`, http.StatusBadRequest},
		{"no steps", http.MethodPost, "/api/v1/scripts", `{"name":"x","steps":[]}`, http.StatusUnprocessableEntity},
		{"bad branch target", http.MethodPost, "/api/v1/scripts",
			`{"name":"x","steps":[{"type":"branch","template":"a.png","on_match":0,"on_no_match":7}]}`, http.StatusUnprocessableEntity},
		{"duplicate name", http.MethodPost, "/api/v1/scripts", `{"name":"taken","steps":[{"type":"tap","x":1,"y":1}]}`, http.StatusConflict},
		{"update missing", http.MethodPut, "/api/v1/scripts/nope", `{"name":"x","steps":[{"type":"tap","x":1,"y":1}]}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/v1/scripts/nope", "", http.StatusNotFound},
		{"run missing", http.MethodPost, "/api/v1/scripts/nope/run", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.method, tt.path, tt.body, admin)
			expectStatus(t, w, tt.want)
			if got := decode[Error](t, w); got.Status != tt.want || got.Code == "" {
				t.Errorf("error body = %+v", got)
			}
		})
	}
}

func TestScripts_Run(t *testing.T) {
	e := newTestEnv(t, testSecret)
	operator := tokenFor(t, auth.RoleOperator)
	s := createScript(t, e, "quick", tapStep(10, 10), tapStep(20, 20))

	w := e.do(t, http.MethodPost, "/api/v1/scripts/quick/run", "", operator)
	expectStatus(t, w, http.StatusAccepted)
	started := decode[macro.RunResult](t, w)
	if started.RunID == "" || started.ScriptName != "quick" {
		t.Fatalf("run = %+v", started)
	}

	h, ok := e.engine.Get(started.RunID)
	if !ok {
		t.Fatal("run handle not retained")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Status != macro.StatusCompleted || e.gateway.tapCount() != 2 {
		t.Errorf("result = %+v, taps = %d", res, e.gateway.tapCount())
	}
	if res.ScriptID != s.ID {
		t.Errorf("ScriptID = %q, want %q", res.ScriptID, s.ID)
	}
}
