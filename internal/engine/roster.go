package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"codeblue/internal/domain"
	"codeblue/internal/events"
)

// AddMember upserts a roster member. Adding an existing phone overwrites the
// stored name.
func (e Engine) AddMember(ctx context.Context, phone, name string) (domain.Member, error) {
	phone = strings.TrimSpace(phone)
	name = strings.TrimSpace(name)
	if phone == "" {
		return domain.Member{}, errors.New("phone is required")
	}
	if name == "" {
		return domain.Member{}, errors.New("name is required")
	}
	m := domain.Member{
		Phone:     phone,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertMember(ctx, m); err != nil {
		return domain.Member{}, err
	}
	e.appendEvent(ctx, "member.added", "", phone, events.EventPayload{"name": name})
	return m, nil
}

// RemoveMember deletes a roster member. Entries on past incidents keep the
// phone; only future escalations stop calling it.
func (e Engine) RemoveMember(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return errors.New("phone is required")
	}
	if err := e.Repo.DeleteMember(ctx, phone); err != nil {
		return err
	}
	e.appendEvent(ctx, "member.removed", "", phone, nil)
	return nil
}
