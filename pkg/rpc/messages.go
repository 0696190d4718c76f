package rpc

import "github.com/pixperk/solo/pkg/types"

type IsAliveRequest struct{}

type IsAliveResponse struct {
	Alive      bool   `json:"alive"`
	PID        int32  `json:"pid"`
	InstanceID string `json:"instance_id"`
}

type OwnershipStatusRequest struct {
	Project types.ProjectIdentity `json:"project"`
}

type VerdictResponse struct {
	Verdict types.Verdict `json:"verdict"`
}

type OpenProjectRequest struct {
	Project types.ProjectIdentity `json:"project"`
	Args    types.StartupArgs     `json:"args"`
}

type LinkRequest struct {
	Args types.LinkArgs `json:"args"`
}

type RestoreRequest struct {
	Settings types.RestoreSettings `json:"settings"`
}

type HandledResponse struct {
	Handled bool `json:"handled"`
}

type CloseAllWindowsRequest struct{}

type SingleProcessModeRequest struct{}

type SingleProcessModeResponse struct {
	Active bool `json:"active"`
}

type ProjectNameRequest struct{}

type ProjectNameResponse struct {
	Name string `json:"name"`
}
