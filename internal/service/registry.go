package service

import (
	"fmt"
	"strings"

	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
)

// Registry tracks connection state of the fixed identities.
// It is owned by the hub loop and is not safe for concurrent use.
type Registry struct {
	users    map[string]*model.User
	order    []string
	maxImage int
}

// NewRegistry pre-seeds a record for every allowed identity.
func NewRegistry(identities []string, maxImage int) *Registry {
	r := &Registry{users: make(map[string]*model.User, len(identities)), maxImage: maxImage}
	for _, id := range identities {
		id = NormalizeIdentity(id)
		if _, ok := r.users[id]; ok || id == "" {
			continue
		}
		r.users[id] = &model.User{Identity: id}
		r.order = append(r.order, id)
	}
	return r
}

// NormalizeIdentity trims and lower-cases a login name.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Identities returns the allowlist in configuration order.
func (r *Registry) Identities() []string {
	return append([]string(nil), r.order...)
}

// Register binds sessionRef to identity. A second login while connected is rejected.
func (r *Registry) Register(identity, sessionRef string) error {
	u, ok := r.users[identity]
	if !ok {
		return fmt.Errorf("register %q: %w", identity, errs.ErrUnknownIdentity)
	}
	if u.Connected {
		return fmt.Errorf("register %q: %w", identity, errs.ErrAlreadyConnected)
	}
	u.Connected = true
	u.SessionRef = sessionRef
	u.CallAddress = ""
	return nil
}

// SetCallAddress stores where call offers can reach identity.
func (r *Registry) SetCallAddress(identity, address string) error {
	u, ok := r.users[identity]
	if !ok || !u.Connected {
		return fmt.Errorf("call address for %q: %w", identity, errs.ErrNotLoggedIn)
	}
	u.CallAddress = strings.TrimSpace(address)
	return nil
}

// SetAvatar replaces the profile image of identity.
func (r *Registry) SetAvatar(identity string, image []byte) error {
	u, ok := r.users[identity]
	if !ok || !u.Connected {
		return fmt.Errorf("avatar for %q: %w", identity, errs.ErrNotLoggedIn)
	}
	if len(image) == 0 {
		return fmt.Errorf("avatar for %q: %w", identity, errs.ErrBadRequest)
	}
	if r.maxImage > 0 && len(image) > r.maxImage {
		return fmt.Errorf("avatar for %q: %w", identity, errs.ErrAttachmentTooLarge)
	}
	u.Avatar = image
	return nil
}

// Lookup returns a copy of the identity record.
func (r *Registry) Lookup(identity string) (model.User, bool) {
	u, ok := r.users[identity]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

// Available reports whether identity can receive a call right now.
func (r *Registry) Available(identity string) model.Availability {
	u, ok := r.users[identity]
	if !ok || !u.Connected || u.CallAddress == "" {
		return model.Availability{}
	}
	return model.Availability{Available: true, CallAddress: u.CallAddress}
}

// Disconnect clears the live session of identity. It is a no-op when sessionRef
// no longer owns the record, so a late cleanup cannot log out a newer session.
func (r *Registry) Disconnect(identity, sessionRef string) bool {
	u, ok := r.users[identity]
	if !ok || !u.Connected || u.SessionRef != sessionRef {
		return false
	}
	u.Connected = false
	u.SessionRef = ""
	u.CallAddress = ""
	return true
}

// Snapshot is the payload of the user-status broadcast.
func (r *Registry) Snapshot() map[string]model.UserStatus {
	out := make(map[string]model.UserStatus, len(r.users))
	for id, u := range r.users {
		out[id] = model.UserStatus{Connected: u.Connected, HasAvatar: len(u.Avatar) > 0}
	}
	return out
}

// Profiles is the profile state sent to a newly logged-in client.
func (r *Registry) Profiles() map[string]model.Profile {
	out := make(map[string]model.Profile, len(r.users))
	for id, u := range r.users {
		out[id] = model.Profile{Connected: u.Connected, Avatar: u.Avatar}
	}
	return out
}
