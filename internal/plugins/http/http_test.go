package httpplugin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	"github.com/alexisbeaulieu97/autoflow/internal/steps/stepstest"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": r.Header.Get("X-Token"),
			"page":  r.URL.Query().Get("page"),
			"items": []string{"a", "b"},
		})
	})
	mux.HandleFunc("POST /api/items", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Content-Type-Seen", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setup(t *testing.T, args map[string]any) (plugin.Plugin, *steps.Registry, *stepstest.Context) {
	t.Helper()
	p := New()
	target := p.ArgumentType()
	require.NoError(t, plugin.BindArguments(target, args))
	require.NoError(t, p.Initialize(context.Background(), plugin.InitContext{Args: target}))

	reg := steps.NewRegistry()
	require.NoError(t, p.(steps.Provider).RegisterSteps(reg))
	return p, reg, stepstest.New(p)
}

func TestRequestDecodesJSON(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	_, reg, sc := setup(t, map[string]any{"base-url": srv.URL + "/api", "headers": map[string]any{"X-Token": "secret"}})

	require.NoError(t, stepstest.Run(context.Background(), reg, sc, "http-request", steps.Params{"url": "/items?page=2"}))

	resp := sc.Attrs["response"].(map[string]any)
	require.Equal(t, http.StatusOK, resp["status"])
	require.Equal(t, map[string]any{"token": "secret", "page": "2", "items": []any{"a", "b"}}, resp["body"])
	require.Equal(t, "application/json", resp["headers"].(map[string]any)["Content-Type"])

	ok, err := stepstest.Check(context.Background(), reg, sc, "http-status", steps.Params{"expected": 200})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRequestSendsJSONBody(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	_, reg, sc := setup(t, nil)

	err := stepstest.Run(context.Background(), reg, sc, "http-request", steps.Params{
		"method":    "post",
		"url":       srv.URL + "/api/items",
		"body":      map[string]any{"name": "widget"},
		"attribute": "created",
	})
	require.NoError(t, err)

	created := sc.Attrs["created"].(map[string]any)
	require.Equal(t, http.StatusCreated, created["status"])
	require.Equal(t, `{"name":"widget"}`, created["body"])
	require.Equal(t, "application/json", created["headers"].(map[string]any)["X-Content-Type-Seen"])

	ok, err := stepstest.Check(context.Background(), reg, sc, "http-status", steps.Params{"attribute": "created"})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = stepstest.Check(context.Background(), reg, sc, "http-status", steps.Params{"attribute": "missing"})
	require.ErrorContains(t, err, "no response stored")
}

func TestTransportFailureIsTyped(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	url := srv.URL
	srv.Close()

	p, reg, sc := setup(t, map[string]any{"timeout": "2s"})
	err := stepstest.Run(context.Background(), reg, sc, "http-request", steps.Params{"url": url + "/api/items"})
	require.Error(t, err)
	require.Equal(t, ErrorType, steps.ErrorType(err))

	log := &stepstest.Log{}
	p.HandleError(context.Background(), plugin.ErrorDetails{Session: sc.Sessions[Name], Log: log})
	require.Equal(t, []string{"INFO last request GET " + url + "/api/items returned 0"}, log.Lines())
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	cases := []struct{ base, target, want string }{
		{"http://h/api", "/items", "http://h/api/items"},
		{"http://h/api/", "items?x=1", "http://h/api/items?x=1"},
		{"http://h/api", "http://other/x", "http://other/x"},
		{"", "http://h/x", "http://h/x"},
	}
	for _, tc := range cases {
		got, err := resolveURL(tc.base, tc.target)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	p := New()
	require.NoError(t, p.Metadata().Validate())
	require.Error(t, plugin.BindArguments(p.ArgumentType(), map[string]any{"base-url": "not a url"}))
}
