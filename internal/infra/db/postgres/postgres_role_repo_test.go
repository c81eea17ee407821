//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
)

func TestRoleRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	repo := NewPostgresRoleRepo(testPool)
	users := NewPostgresUserRepo(testPool)
	ctx := context.Background()

	newRole := func(t *testing.T, id, owner, name string) *model.Role {
		t.Helper()
		r, err := model.NewCustomRole(id, owner, name, "", "Answer like a pirate, always.", time.Now().UTC().Truncate(time.Microsecond))
		if err != nil {
			t.Fatal(err)
		}
		return r
	}

	t.Run("should list presets before the user's own roles", func(t *testing.T) {
		cleanup(t)
		owner := seedUser(t, 5001)
		other := seedUser(t, 5002)
		if err := repo.Create(ctx, nil, newRole(t, "r-own", owner, "Pirate")); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := repo.Create(ctx, nil, newRole(t, "r-other", other, "Pirate")); err != nil {
			t.Fatalf("create for another owner: %v", err)
		}

		roles, err := repo.ListForUser(ctx, nil, owner)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(roles) < 2 || roles[0].ID != model.DefaultRoleID || !roles[0].Preset() {
			t.Fatalf("expected the default preset first, got %+v", roles)
		}
		last := roles[len(roles)-1]
		if last.ID != "r-own" || !last.OwnedBy(owner) {
			t.Errorf("expected the own role last, got %+v", last)
		}
		for _, r := range roles {
			if r.ID == "r-other" {
				t.Error("expected another user's role hidden")
			}
		}
	})

	t.Run("should reject a duplicate name of the same owner", func(t *testing.T) {
		cleanup(t)
		owner := seedUser(t, 5003)
		if err := repo.Create(ctx, nil, newRole(t, "r-1", owner, "Pirate")); err != nil {
			t.Fatal(err)
		}
		if err := repo.Create(ctx, nil, newRole(t, "r-2", owner, "PIRATE")); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("should delete only own roles and clear the selection", func(t *testing.T) {
		cleanup(t)
		owner := seedUser(t, 5004)
		if err := repo.Create(ctx, nil, newRole(t, "r-1", owner, "Pirate")); err != nil {
			t.Fatal(err)
		}
		u, _ := users.FindByID(ctx, nil, owner)
		id := "r-1"
		u.SelectedRoleID = &id
		if err := users.Save(ctx, nil, u); err != nil {
			t.Fatal(err)
		}

		if ok, err := repo.Delete(ctx, nil, owner, model.DefaultRoleID); err != nil || ok {
			t.Errorf("expected the preset kept, got %v / %v", ok, err)
		}
		if ok, err := repo.Delete(ctx, nil, "someone-else", "r-1"); err != nil || ok {
			t.Errorf("expected a foreign delete refused, got %v / %v", ok, err)
		}
		if ok, err := repo.Delete(ctx, nil, owner, "r-1"); err != nil || !ok {
			t.Fatalf("expected the role deleted, got %v / %v", ok, err)
		}
		if _, err := repo.FindByID(ctx, nil, "r-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		u, _ = users.FindByID(ctx, nil, owner)
		if u.SelectedRoleID != nil {
			t.Errorf("expected the selection cleared, got %v", *u.SelectedRoleID)
		}
	})
}
