package app

import (
	"context"
	"errors"
)

// ErrNoSuchManagementEndpoint is returned by a component's
// HandleManagementRequest when (method, pathParts) does not match any
// endpoint it advertises, letting the app try the next handler.
var ErrNoSuchManagementEndpoint = errors.New("app: no matching management endpoint")

// ManagementEndpoint is one HTTP-shaped operation an app (or one of its
// components) advertises over the management HTTP surface.
type ManagementEndpoint struct {
	Method      string
	Path        string
	Description string
}

// ManagementHandler is implemented by a component that wants to expose
// operator-facing management endpoints beyond the app's own status/list
// surface (e.g. a session-backed request/response component exposing
// list/create/destroy-session operations).
type ManagementHandler interface {
	GetManagementEndpoints() []ManagementEndpoint
	HandleManagementRequest(ctx context.Context, method string, pathParts []string, body []byte) (any, error)
}

// GetManagementEndpoints returns this app's own status endpoint plus
// whatever endpoints any of its components advertise.
func (a *App) GetManagementEndpoints() []ManagementEndpoint {
	endpoints := []ManagementEndpoint{
		{Method: "GET", Path: "/apps/" + a.Name, Description: "app status snapshot"},
	}
	for _, h := range a.managementHandlers() {
		endpoints = append(endpoints, h.GetManagementEndpoints()...)
	}
	return endpoints
}

// HandleManagementRequest offers the request to each component-level
// handler in turn; the first one that does not return
// ErrNoSuchManagementEndpoint answers it. If every handler declines, it
// returns the app's status snapshot, whatever the method and path.
func (a *App) HandleManagementRequest(ctx context.Context, method string, pathParts []string, body []byte) (any, error) {
	for _, h := range a.managementHandlers() {
		if result, ok, err := tryHandle(ctx, h, method, pathParts, body); ok {
			return result, err
		}
	}
	return map[string]any{
		"name":   a.Name,
		"status": string(a.Status()),
	}, nil
}

func tryHandle(ctx context.Context, h ManagementHandler, method string, pathParts []string, body []byte) (any, bool, error) {
	result, err := h.HandleManagementRequest(ctx, method, pathParts, body)
	if errors.Is(err, ErrNoSuchManagementEndpoint) {
		return nil, false, nil
	}
	return result, true, err
}

func (a *App) managementHandlers() []ManagementHandler {
	a.mu.Lock()
	defer a.mu.Unlock()

	var handlers []ManagementHandler
	for _, f := range a.flows {
		for _, g := range f.Groups {
			for _, inst := range g.Instances {
				if h, ok := inst.Impl().(ManagementHandler); ok {
					handlers = append(handlers, h)
				}
			}
		}
	}
	return handlers
}
