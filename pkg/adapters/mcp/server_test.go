package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/railhub/pkg/domain"
)

type fakeService struct {
	status    domain.NodeStatus
	selectErr error
	cancelErr error
	selected  string
}

func (f *fakeService) Status(ctx context.Context) domain.NodeStatus { return f.status }

func (f *fakeService) SelectDestination(ctx context.Context, dest string) error {
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selected = dest
	f.status.Intent = domain.DepartureIntent{DestinationID: dest, Phase: domain.PhaseCountdown}
	return nil
}

func (f *fakeService) CancelDeparture(ctx context.Context) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.status.Intent = domain.DepartureIntent{Phase: domain.PhaseIdle}
	return nil
}

func (f *fakeService) Brake(ctx context.Context) error { return nil }

func TestSelectDestination(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(svc, "test", nil)

	res, err := s.handleSelectDestination(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{"destination_id": "remote-1"})
	require.NoError(t, err)
	assert.Equal(t, "remote-1", svc.selected)
	assert.Equal(t, domain.PhaseCountdown, res.Intent.Phase)

	_, err = s.handleSelectDestination(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{})
	assert.Error(t, err)
}

func TestSelectDestination_Rejected(t *testing.T) {
	svc := &fakeService{selectErr: domain.ErrIntentActive}
	s := NewServer(svc, "test", nil)

	_, err := s.handleSelectDestination(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{"destination_id": "remote-1"})
	assert.ErrorIs(t, err, domain.ErrIntentActive)
}

func TestCancelDeparture(t *testing.T) {
	svc := &fakeService{status: domain.NodeStatus{Intent: domain.DepartureIntent{DestinationID: "x", Phase: domain.PhaseCountdown}}}
	s := NewServer(svc, "test", nil)

	res, err := s.handleCancelDeparture(context.Background(), mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, res.Intent.Phase)

	svc.cancelErr = domain.ErrNoIntent
	_, err = s.handleCancelDeparture(context.Background(), mcp.CallToolRequest{}, nil)
	assert.ErrorIs(t, err, domain.ErrNoIntent)
}

func TestRegistryResource(t *testing.T) {
	svc := &fakeService{status: domain.NodeStatus{Stations: []domain.StationRecord{
		{ID: "hub-1", Label: "Hub", Online: true},
		{ID: "remote-1", Label: "Quarry", HasTrain: true},
	}}}
	s := NewServer(svc, "test", nil)

	contents, err := s.readRegistry(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, RegistryURI, text.URI)

	var stations []domain.StationRecord
	require.NoError(t, json.Unmarshal([]byte(text.Text), &stations))
	assert.Len(t, stations, 2)
	assert.True(t, stations[1].HasTrain)
}
