package handlers

import (
	"net/http"
	"sort"

	"github.com/ziyouwa/vnts/internal/group"
	"github.com/ziyouwa/vnts/internal/netutil"
)

// GroupLister reads the registry's current membership for admin reporting.
// Satisfied by *group.Registry.
type GroupLister interface {
	GroupIDs() []string
	Snapshot(groupID string) (group.Snapshot, bool)
}

// GroupHandler implements POST /group_list and POST /group_info.
type GroupHandler struct {
	groups GroupLister
}

func NewGroupHandler(groups GroupLister) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// GroupListResponse is the response body for POST /group_list.
type GroupListResponse struct {
	GroupList []string `json:"group_list"`
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.groups.GroupIDs()
	sort.Strings(ids)
	writeOK(w, GroupListResponse{GroupList: ids})
}

// GroupInfoRequest is the request body for POST /group_info.
type GroupInfoRequest struct {
	Group string `json:"group"`
}

// ClientInfo is one client entry in a GroupInfoResponse, sorted by virtual
// IP (SUPPLEMENTED FEATURES item 5).
type ClientInfo struct {
	DeviceID  string `json:"device_id"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address"`
	VirtualIP string `json:"virtual_ip"`
	Online    bool   `json:"online"`
}

// GroupInfoResponse is the response body for POST /group_info.
type GroupInfoResponse struct {
	Group      string       `json:"group"`
	Network    string       `json:"network"`
	Netmask    string       `json:"netmask"`
	Gateway    string       `json:"gateway"`
	Epoch      uint64       `json:"epoch"`
	ClientList []ClientInfo `json:"client_list"`
}

func (h *GroupHandler) Info(w http.ResponseWriter, r *http.Request) {
	var req GroupInfoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Group == "" {
		writeError(w, http.StatusBadRequest, "group is required")
		return
	}

	snap, ok := h.groups.Snapshot(req.Group)
	if !ok {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}

	clients := make([]ClientInfo, 0, len(snap.Clients))
	for _, c := range snap.Clients {
		clients = append(clients, ClientInfo{
			DeviceID:  c.DeviceID,
			Name:      c.Name,
			Address:   c.Address,
			VirtualIP: netutil.FormatIPv4(c.VirtualIP),
			Online:    c.Online,
		})
	}

	writeOK(w, GroupInfoResponse{
		Group:      snap.GroupID,
		Network:    netutil.FormatIPv4(snap.NetworkIP),
		Netmask:    netutil.FormatIPv4(snap.Netmask),
		Gateway:    netutil.FormatIPv4(snap.Gateway),
		Epoch:      snap.Epoch,
		ClientList: clients,
	})
}
