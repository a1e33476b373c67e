package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
	"github.com/jmylchreest/encodr/internal/service"
)

// DeviceProfileHandler manages stored device profiles and the capabilities
// devices register for themselves.
type DeviceProfileHandler struct {
	service *service.DeviceProfileService
}

// NewDeviceProfileHandler creates a device profile handler.
func NewDeviceProfileHandler(svc *service.DeviceProfileService) *DeviceProfileHandler {
	return &DeviceProfileHandler{service: svc}
}

// Register registers the device profile routes with the API.
func (h *DeviceProfileHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listDeviceProfiles",
		Method:      http.MethodGet,
		Path:        "/api/v1/device-profiles",
		Summary:     "List device profiles",
		Description: "Returns all device profiles, highest identification priority first",
		Tags:        []string{"Device Profiles"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getDeviceProfile",
		Method:      http.MethodGet,
		Path:        "/api/v1/device-profiles/{id}",
		Summary:     "Get device profile",
		Tags:        []string{"Device Profiles"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID:   "createDeviceProfile",
		Method:        http.MethodPost,
		Path:          "/api/v1/device-profiles",
		Summary:       "Create device profile",
		Tags:          []string{"Device Profiles"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "updateDeviceProfile",
		Method:      http.MethodPut,
		Path:        "/api/v1/device-profiles/{id}",
		Summary:     "Update device profile",
		Tags:        []string{"Device Profiles"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteDeviceProfile",
		Method:      http.MethodDelete,
		Path:        "/api/v1/device-profiles/{id}",
		Summary:     "Delete device profile",
		Tags:        []string{"Device Profiles"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "getDeviceCapabilities",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices/{id}/capabilities",
		Summary:     "Get device capabilities",
		Description: "Returns the profile a device registered, resolving profile references",
		Tags:        []string{"Devices"},
	}, h.GetCapabilities)

	huma.Register(api, huma.Operation{
		OperationID: "setDeviceCapabilities",
		Method:      http.MethodPut,
		Path:        "/api/v1/devices/{id}/capabilities",
		Summary:     "Set device capabilities",
		Description: "Registers the profile a device plays with, either by reference or inline",
		Tags:        []string{"Devices"},
	}, h.SetCapabilities)

	huma.Register(api, huma.Operation{
		OperationID: "deleteDeviceCapabilities",
		Method:      http.MethodDelete,
		Path:        "/api/v1/devices/{id}/capabilities",
		Summary:     "Clear device capabilities",
		Tags:        []string{"Devices"},
	}, h.ClearCapabilities)
}

// DeviceProfileResponse is a device profile in API responses.
type DeviceProfileResponse struct {
	ID                  string                        `json:"id" doc:"Profile ID (ULID)"`
	Name                string                        `json:"name"`
	Description         string                        `json:"description,omitempty"`
	Priority            int                           `json:"priority"`
	Identification      []encoding.HeaderRule         `json:"identification"`
	MediaProfiles       []encoding.MediaProfile       `json:"mediaProfiles"`
	TranscodingProfiles []encoding.TranscodingProfile `json:"transcodingProfiles"`
	CreatedAt           time.Time                     `json:"createdAt"`
	UpdatedAt           time.Time                     `json:"updatedAt"`
}

// DeviceProfileFromModel converts a stored profile.
func DeviceProfileFromModel(p *models.DeviceProfile) DeviceProfileResponse {
	resp := DeviceProfileResponse{
		ID:                  p.ID.String(),
		Name:                p.Name,
		Description:         p.Description,
		Priority:            p.Priority,
		Identification:      p.Identification,
		MediaProfiles:       p.MediaProfiles,
		TranscodingProfiles: p.TranscodingProfiles,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
	if resp.Identification == nil {
		resp.Identification = []encoding.HeaderRule{}
	}
	if resp.MediaProfiles == nil {
		resp.MediaProfiles = []encoding.MediaProfile{}
	}
	if resp.TranscodingProfiles == nil {
		resp.TranscodingProfiles = []encoding.TranscodingProfile{}
	}
	return resp
}

// DeviceProfileBody is the writable part of a profile.
type DeviceProfileBody struct {
	Name                string                        `json:"name" minLength:"1" maxLength:"100"`
	Description         string                        `json:"description,omitempty" maxLength:"500"`
	Priority            int                           `json:"priority,omitempty" doc:"Higher priority profiles are matched first"`
	Identification      []encoding.HeaderRule         `json:"identification,omitempty"`
	MediaProfiles       []encoding.MediaProfile       `json:"mediaProfiles,omitempty"`
	TranscodingProfiles []encoding.TranscodingProfile `json:"transcodingProfiles,omitempty"`
}

func (b *DeviceProfileBody) apply(p *models.DeviceProfile) {
	p.Name = b.Name
	p.Description = b.Description
	p.Priority = b.Priority
	p.Identification = b.Identification
	p.MediaProfiles = b.MediaProfiles
	p.TranscodingProfiles = b.TranscodingProfiles
}

// ListDeviceProfilesOutput is the output for listing profiles.
type ListDeviceProfilesOutput struct {
	Body struct {
		Profiles []DeviceProfileResponse `json:"profiles"`
	}
}

// List returns every profile.
func (h *DeviceProfileHandler) List(ctx context.Context, _ *struct{}) (*ListDeviceProfilesOutput, error) {
	profiles, err := h.service.GetAll(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	out := &ListDeviceProfilesOutput{}
	out.Body.Profiles = make([]DeviceProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out.Body.Profiles = append(out.Body.Profiles, DeviceProfileFromModel(p))
	}
	return out, nil
}

// DeviceProfileIDInput identifies a profile.
type DeviceProfileIDInput struct {
	ID string `path:"id" doc:"Profile ID (ULID)"`
}

// DeviceProfileOutput wraps a single profile.
type DeviceProfileOutput struct {
	Body DeviceProfileResponse
}

func parseProfileID(id string) (models.ULID, error) {
	ulid, err := models.ParseULID(id)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid profile id", err)
	}
	return ulid, nil
}

// GetByID returns one profile.
func (h *DeviceProfileHandler) GetByID(ctx context.Context, input *DeviceProfileIDInput) (*DeviceProfileOutput, error) {
	id, err := parseProfileID(input.ID)
	if err != nil {
		return nil, err
	}
	p, err := h.service.GetByID(ctx, id)
	if err != nil {
		return nil, apiError(err)
	}
	return &DeviceProfileOutput{Body: DeviceProfileFromModel(p)}, nil
}

// CreateDeviceProfileInput is the input for creating a profile.
type CreateDeviceProfileInput struct {
	Body DeviceProfileBody
}

// Create stores a new profile.
func (h *DeviceProfileHandler) Create(ctx context.Context, input *CreateDeviceProfileInput) (*DeviceProfileOutput, error) {
	p := &models.DeviceProfile{}
	input.Body.apply(p)
	if err := h.service.Create(ctx, p); err != nil {
		return nil, apiError(err)
	}
	return &DeviceProfileOutput{Body: DeviceProfileFromModel(p)}, nil
}

// UpdateDeviceProfileInput is the input for replacing a profile.
type UpdateDeviceProfileInput struct {
	ID   string `path:"id" doc:"Profile ID (ULID)"`
	Body DeviceProfileBody
}

// Update replaces a profile.
func (h *DeviceProfileHandler) Update(ctx context.Context, input *UpdateDeviceProfileInput) (*DeviceProfileOutput, error) {
	id, err := parseProfileID(input.ID)
	if err != nil {
		return nil, err
	}
	p, err := h.service.GetByID(ctx, id)
	if err != nil {
		return nil, apiError(err)
	}
	input.Body.apply(p)
	if err := h.service.Update(ctx, p); err != nil {
		return nil, apiError(err)
	}
	return &DeviceProfileOutput{Body: DeviceProfileFromModel(p)}, nil
}

// Delete removes a profile.
func (h *DeviceProfileHandler) Delete(ctx context.Context, input *DeviceProfileIDInput) (*struct{}, error) {
	id, err := parseProfileID(input.ID)
	if err != nil {
		return nil, err
	}
	if _, err := h.service.GetByID(ctx, id); err != nil {
		return nil, apiError(err)
	}
	if err := h.service.Delete(ctx, id); err != nil {
		return nil, apiError(err)
	}
	return nil, nil
}

// DeviceIDInput identifies a device.
type DeviceIDInput struct {
	ID string `path:"id" doc:"Device ID"`
}

// CapabilitiesResponse is the profile a device plays with.
type CapabilitiesResponse struct {
	DeviceID string                  `json:"deviceId"`
	Profile  *encoding.DeviceProfile `json:"profile,omitempty" doc:"Resolved profile, absent when a referenced profile was deleted"`
}

// CapabilitiesOutput wraps a device's capabilities.
type CapabilitiesOutput struct {
	Body CapabilitiesResponse
}

// GetCapabilities returns the resolved profile of a device.
func (h *DeviceProfileHandler) GetCapabilities(ctx context.Context, input *DeviceIDInput) (*CapabilitiesOutput, error) {
	profile, registered, err := h.service.GetCapabilities(ctx, input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	if !registered {
		return nil, huma.Error404NotFound("device has not registered capabilities")
	}
	return &CapabilitiesOutput{Body: CapabilitiesResponse{DeviceID: input.ID, Profile: profile}}, nil
}

// SetCapabilitiesInput registers a device's capabilities.
type SetCapabilitiesInput struct {
	ID   string `path:"id" doc:"Device ID"`
	Body struct {
		DeviceName string                  `json:"deviceName,omitempty"`
		ProfileID  string                  `json:"profileId,omitempty" doc:"Stored profile to use; takes precedence over profile"`
		Profile    *encoding.DeviceProfile `json:"profile,omitempty" doc:"Inline profile"`
	}
}

// SetCapabilities stores a device's capabilities.
func (h *DeviceProfileHandler) SetCapabilities(ctx context.Context, input *SetCapabilitiesInput) (*CapabilitiesOutput, error) {
	caps := &models.DeviceCapabilities{
		DeviceID:   input.ID,
		DeviceName: input.Body.DeviceName,
		Profile:    input.Body.Profile,
	}
	if input.Body.ProfileID != "" {
		id, err := parseProfileID(input.Body.ProfileID)
		if err != nil {
			return nil, err
		}
		caps.ProfileID = &id
		caps.Profile = nil
	}
	if err := h.service.SetCapabilities(ctx, caps); err != nil {
		return nil, apiError(err)
	}
	return h.GetCapabilities(ctx, &DeviceIDInput{ID: input.ID})
}

// ClearCapabilities removes a device's capabilities.
func (h *DeviceProfileHandler) ClearCapabilities(ctx context.Context, input *DeviceIDInput) (*struct{}, error) {
	if err := h.service.ClearCapabilities(ctx, input.ID); err != nil {
		return nil, apiError(err)
	}
	return nil, nil
}
