package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziyouwa/vnts/internal/group"
)

type fakeGroupLister struct {
	ids  []string
	snap map[string]group.Snapshot
}

func (f *fakeGroupLister) GroupIDs() []string { return f.ids }
func (f *fakeGroupLister) Snapshot(groupID string) (group.Snapshot, bool) {
	s, ok := f.snap[groupID]
	return s, ok
}

func TestGroupListReturnsSortedIDs(t *testing.T) {
	lister := &fakeGroupLister{ids: []string{"zeta", "alpha"}}
	h := NewGroupHandler(lister)

	req := httptest.NewRequest(http.MethodPost, "/group_list", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var resp GroupListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"alpha", "zeta"}, resp.GroupList)
}

func TestGroupInfoNotFound(t *testing.T) {
	lister := &fakeGroupLister{snap: map[string]group.Snapshot{}}
	h := NewGroupHandler(lister)

	body, _ := json.Marshal(GroupInfoRequest{Group: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/group_info", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Info(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupInfoReturnsClients(t *testing.T) {
	lister := &fakeGroupLister{snap: map[string]group.Snapshot{
		"g": {
			GroupID:   "g",
			NetworkIP: 0x0a1a0000,
			Netmask:   0xffffff00,
			Gateway:   0x0a1a0001,
			Epoch:     3,
			Clients: []group.ClientEntry{
				{DeviceID: "dev-a", VirtualIP: 0x0a1a0002, Address: "1.2.3.4:5", Online: true},
			},
		},
	}}
	h := NewGroupHandler(lister)

	body, _ := json.Marshal(GroupInfoRequest{Group: "g"})
	req := httptest.NewRequest(http.MethodPost, "/group_info", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Info(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp GroupInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "10.26.0.1", resp.Gateway)
	assert.Equal(t, uint64(3), resp.Epoch)
	require.Len(t, resp.ClientList, 1)
	assert.Equal(t, "10.26.0.2", resp.ClientList[0].VirtualIP)
	assert.True(t, resp.ClientList[0].Online)
}
