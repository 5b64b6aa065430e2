package tracker

import (
	"context"
	"fmt"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
)

// Profiles reads and writes the profile of the current user. A user has at most one profile.
type Profiles struct {
	client backend.Client
	users  UserResolver
	state  state[*Profile]
}

func NewProfiles(client backend.Client, users UserResolver) *Profiles {
	return &Profiles{
		client: client,
		users:  users,
	}
}

type profileRow struct {
	UserID string `json:"user_id"`
	ProfileFields
}

// Fetch returns the profile of the current user, or nil when none exists yet.
// A stored profile that belongs to another user yields ErrProfileOwnership.
func (p *Profiles) Fetch(ctx context.Context) (_ *Profile, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.profiles.fetch")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	p.state.start()

	user, err := resolveUser(ctx, p.users)
	if err != nil {
		p.state.failWith(ErrorMessage(err, MsgLoadProfile), nil)
		return nil, err
	}

	profile := &Profile{}
	err = p.client.SelectSingle(ctx, backend.From(tableProfile).Eq("user_id", user.ID), profile)
	if backend.IsNoRows(err) {
		err = nil
		p.state.succeed(nil)
		return nil, nil
	}
	if err != nil {
		log.Errorf("fetch profile of %s: %s", user.ID, err)
		p.state.failWith(ErrorMessage(err, MsgLoadProfile), nil)
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	if err = checkOwner(profile, user); err != nil {
		p.state.failWith(ErrorMessage(err, MsgLoadProfile), nil)
		return nil, err
	}

	p.state.succeed(profile)
	return profile, nil
}

// Update creates or updates the profile of the current user in a single upsert keyed on
// user_id, so concurrent first saves converge on one row.
func (p *Profiles) Update(ctx context.Context, fields ProfileFields) (_ *Profile, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.profiles.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	p.state.start()

	user, err := resolveUser(ctx, p.users)
	if err != nil {
		p.state.fail(ErrorMessage(err, MsgSaveProfile))
		return nil, err
	}

	profile := &Profile{}
	row := profileRow{UserID: user.ID, ProfileFields: fields}
	if err = p.client.Upsert(ctx, tableProfile, row, "user_id", profile); err != nil {
		log.Errorf("upsert profile of %s: %s", user.ID, err)
		p.state.fail(ErrorMessage(err, MsgSaveProfile))
		return nil, fmt.Errorf("save profile: %w", err)
	}

	if err = checkOwner(profile, user); err != nil {
		p.state.fail(ErrorMessage(err, MsgSaveProfile))
		return nil, err
	}

	p.state.succeed(profile)
	return profile, nil
}

// UpdateCheckThenAct looks the profile up first and then updates or inserts it.
// Two concurrent first saves may race here; the unique user_id constraint rejects the loser.
func (p *Profiles) UpdateCheckThenAct(ctx context.Context, fields ProfileFields) (_ *Profile, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.profiles.check-then-act")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	p.state.start()

	user, err := resolveUser(ctx, p.users)
	if err != nil {
		p.state.fail(ErrorMessage(err, MsgSaveProfile))
		return nil, err
	}

	var existing Profile
	found, err := p.client.SelectMaybeSingle(ctx,
		backend.From(tableProfile).Select("id", "user_id").Eq("user_id", user.ID),
		&existing,
	)
	if err != nil {
		log.Errorf("check profile of %s: %s", user.ID, err)
		p.state.fail(ErrorMessage(err, MsgSaveProfile))
		return nil, fmt.Errorf("check profile: %w", err)
	}

	profile := &Profile{}
	if found {
		err = p.client.Update(ctx, tableProfile, fields, []backend.Filter{backend.Eq("user_id", user.ID)}, profile)
	} else {
		err = p.client.Insert(ctx, tableProfile, profileRow{UserID: user.ID, ProfileFields: fields}, profile)
	}
	if err != nil {
		log.Errorf("save profile of %s (existing: %t): %s", user.ID, found, err)
		p.state.fail(ErrorMessage(err, MsgSaveProfile))
		return nil, fmt.Errorf("save profile: %w", err)
	}

	if err = checkOwner(profile, user); err != nil {
		p.state.fail(ErrorMessage(err, MsgSaveProfile))
		return nil, err
	}

	p.state.succeed(profile)
	return profile, nil
}

func (p *Profiles) State() State[*Profile] {
	return p.state.snapshot()
}

func checkOwner(profile *Profile, user *backend.User) error {
	if profile.UserID != user.ID {
		log.Errorf("profile %d belongs to %q, not to %q", profile.ID, profile.UserID, user.ID)
		return ErrProfileOwnership
	}
	return nil
}
