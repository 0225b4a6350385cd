package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/railhub/internal/cli"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStatus() domain.NodeStatus {
	return domain.NodeStatus{
		Identity: domain.StationIdentity{ID: "hub-1", Label: "Central", Role: domain.RoleHub},
		HubID:    "hub-1",
		HasTrain: true,
		Lock:     &domain.SwitchLock{State: domain.LockUnlocked},
		Stations: []domain.StationRecord{
			{ID: "hub-1", Label: "Central", Online: true, HasTrain: true},
			{ID: "quarry", Label: "Quarry", Online: true},
		},
	}
}

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(sampleStatus())
	}))
	defer srv.Close()

	status, err := cli.FetchStatus(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "hub-1", status.HubID)
	assert.Len(t, status.Stations, 2)
}

func TestFetchStatus_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := cli.FetchStatus(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRenderStatus(t *testing.T) {
	status := sampleStatus()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, cli.RenderStatus(&buf, status, cli.FormatJSON))
		var decoded domain.NodeStatus
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, status.Identity, decoded.Identity)
	})

	t.Run("graph", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, cli.RenderStatus(&buf, status, cli.FormatGraph))
		assert.Contains(t, buf.String(), "graph LR")
	})

	t.Run("markdown is plain off a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, cli.RenderStatus(&buf, status, cli.FormatMarkdown))
		assert.Contains(t, buf.String(), "# Central (HUB)")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, cli.RenderStatus(&bytes.Buffer{}, status, "yaml"))
	})
}
