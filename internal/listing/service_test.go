package listing

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/campus/internal/models"
)

func price(c int64) *int64 { return &c }
func str(s string) *string { return &s }

func newTestService() (*Service, *memStore) {
	ms := newMemStore()
	return NewService(ms, zerolog.Nop()), ms
}

func housingInput() Input {
	return Input{
		Title:      "Room near campus",
		Body:       "Sunny double room, five minutes walk",
		PriceCents: price(45000),
		Location:   "Elm Street",
		Contact:    str("555-0100"),
		Attributes: map[string]string{"bedrooms": "2"},
	}
}

func TestCreateValidatesPerKind(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	actor := Actor{UserID: uuid.New()}

	tests := []struct {
		name string
		kind string
		in   Input
		err  error
	}{
		{"unknown kind", "spaceship", Input{Title: "x"}, ErrUnknownKind},
		{"housing needs price", KindHousing, Input{Title: "Room", Location: "Elm"}, ErrInvalid},
		{"housing needs location", KindHousing, Input{Title: "Room", PriceCents: price(1)}, ErrInvalid},
		{"job needs title", KindJob, Input{Body: "help wanted"}, ErrInvalid},
		{"post needs content", KindPost, Input{Body: "   "}, ErrInvalid},
		{"negative price", KindMarketplace, Input{Title: "Desk", PriceCents: price(-5)}, ErrInvalid},
		{"unknown attribute", KindMarketplace, Input{Title: "Desk", PriceCents: price(5), Attributes: map[string]string{"bedrooms": "1"}}, ErrInvalid},
		{"valid post", KindPost, Input{Body: "hello campus"}, nil},
		{"valid housing", KindHousing, housingInput(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, actor, tt.kind, tt.in)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestModeratedKindsStartPending(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := Actor{UserID: uuid.New()}
	stranger := Actor{UserID: uuid.New()}
	mod := Actor{UserID: uuid.New(), Moderator: true}

	post, err := svc.Create(ctx, owner, KindPost, Input{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, post.Status)

	room, err := svc.Create(ctx, owner, KindHousing, housingInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, room.Status)

	_, err = svc.Get(ctx, stranger, KindHousing, room.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, owner, KindHousing, room.ID)
	assert.NoError(t, err)

	visible, err := svc.List(ctx, stranger, models.ListingFilter{Kind: KindHousing})
	require.NoError(t, err)
	assert.Empty(t, visible)

	pending, err := svc.Pending(ctx, mod)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = svc.SetStatus(ctx, owner, room.ID, models.StatusApproved)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.SetStatus(ctx, mod, room.ID, "maybe")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = svc.SetStatus(ctx, mod, room.ID, models.StatusApproved)
	require.NoError(t, err)

	visible, err = svc.List(ctx, stranger, models.ListingFilter{Kind: KindHousing})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestSafeProjectionHidesContact(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := Actor{UserID: uuid.New()}
	mod := Actor{UserID: uuid.New(), Moderator: true}

	room, err := svc.Create(ctx, owner, KindHousing, housingInput())
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, mod, room.ID, models.StatusApproved)
	require.NoError(t, err)

	unverified, err := svc.Get(ctx, Actor{UserID: uuid.New()}, KindHousing, room.ID)
	require.NoError(t, err)
	assert.Nil(t, unverified.Contact)

	verified, err := svc.Get(ctx, Actor{UserID: uuid.New(), Verified: true}, KindHousing, room.ID)
	require.NoError(t, err)
	require.NotNil(t, verified.Contact)
	assert.Equal(t, "555-0100", *verified.Contact)

	own, err := svc.Get(ctx, owner, KindHousing, room.ID)
	require.NoError(t, err)
	assert.NotNil(t, own.Contact)

	// Kinds that do not hide contact keep it for everyone.
	res, err := svc.Create(ctx, owner, KindResource, Input{Title: "Notes", Contact: str("me@x.edu")})
	require.NoError(t, err)
	got, err := svc.Get(ctx, Actor{UserID: uuid.New()}, KindResource, res.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Contact)
}

func TestDeleteRequiresOwnerOrModerator(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()
	owner := Actor{UserID: uuid.New()}

	post, err := svc.Create(ctx, owner, KindPost, Input{Body: "bye"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, Actor{UserID: uuid.New()}, KindPost, post.ID), ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, owner, KindJob, post.ID), ErrNotFound, "kind must match")
	require.NoError(t, svc.Delete(ctx, owner, KindPost, post.ID))
	assert.Empty(t, ms.listings)
}

func TestAddImageLimit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	owner := Actor{UserID: uuid.New()}

	item, err := svc.Create(ctx, owner, KindMarketplace, Input{Title: "Desk", PriceCents: price(2000)})
	require.NoError(t, err)

	_, err = svc.AddImage(ctx, Actor{UserID: uuid.New()}, KindMarketplace, item.ID, "https://cdn/x.jpg")
	assert.ErrorIs(t, err, ErrForbidden)

	for i := 0; i < MaxImages; i++ {
		_, err := svc.AddImage(ctx, owner, KindMarketplace, item.ID, fmt.Sprintf("https://cdn/%d.jpg", i))
		require.NoError(t, err)
	}
	_, err = svc.AddImage(ctx, owner, KindMarketplace, item.ID, "https://cdn/extra.jpg")
	assert.ErrorIs(t, err, ErrTooManyImages)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"cheap", "room", "campus"}, Tokenize("A cheap room at THE campus!"))
	assert.Empty(t, Tokenize("the a of"))
	assert.Len(t, Tokenize("one two three four five six seven"), maxSearchTokens)
}

func TestSearchMatchesAllTokens(t *testing.T) {
	svc, ms := newTestService()
	ctx := context.Background()
	owner := Actor{UserID: uuid.New()}

	_, err := svc.Create(ctx, owner, KindMarketplace, Input{Title: "Standing desk", Body: "Barely used", PriceCents: price(5000)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner, KindResource, Input{Title: "Desk lamp guide"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner, KindPost, Input{Body: "Selling a used standing desk soon"})
	require.NoError(t, err)

	results, err := svc.Search(ctx, Actor{UserID: uuid.New()}, "standing desk", models.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	last := ms.filters[len(ms.filters)-1]
	assert.Equal(t, "standing", last.Query)
	assert.Equal(t, models.StatusApproved, last.Status)

	none, err := svc.Search(ctx, Actor{}, "the", models.ListingFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
