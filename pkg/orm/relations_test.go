package orm

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManyToManyMirrorsBothSides(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	p1, p2 := saved(t, m, "Post"), saved(t, m, "Post")

	user := newInst(t, m, "User")
	require.NoError(t, user.SetIDs("posts_ids", idOf(t, p1), idOf(t, p2)))
	require.NoError(t, user.Save(ctx))

	assert.Equal(t, []string{"1", "2"}, members(t, store, "User#1:posts_ids"))
	assert.Equal(t, []string{"1"}, members(t, store, "Post#1:authors_ids"))
	assert.Equal(t, []string{"1"}, members(t, store, "Post#2:authors_ids"))

	loaded, err := m.Find(ctx, "Post", 2, "authors_ids")
	require.NoError(t, err)
	authors, err := loaded.GetIDs("authors_ids")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, authors)

	require.NoError(t, user.SetIDs("posts_ids", idOf(t, p2)))
	require.NoError(t, user.Save(ctx))
	assert.Empty(t, members(t, store, "Post#1:authors_ids"))
	assert.Equal(t, []string{"1"}, members(t, store, "Post#2:authors_ids"))

	// Assigning from the other side updates the user's forward set.
	other := saved(t, m, "User")
	require.NoError(t, loaded.SetIDs("authors_ids", idOf(t, other)))
	require.NoError(t, loaded.Save(ctx))
	assert.Empty(t, members(t, store, "User#1:posts_ids"))
	assert.Equal(t, []string{"2"}, members(t, store, "User#2:posts_ids"))
}

func TestManyToManyWithoutInverse(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withoutInverse)
	a1, a2 := saved(t, m, "Article"), saved(t, m, "Article")

	person := newInst(t, m, "Person")
	require.NoError(t, person.SetIDs("articles_ids", idOf(t, a1), idOf(t, a2)))
	require.NoError(t, person.Save(ctx))
	assert.Equal(t, []string{"1"}, members(t, store, "Article#1:Person:articles_ids"))
	assert.Equal(t, []string{"1"}, members(t, store, "Article#2:Person:articles_ids"))

	require.NoError(t, person.SetIDs("articles_ids"))
	require.NoError(t, person.Save(ctx))
	assert.Empty(t, nonCounterKeys(t, store))
}

func TestOneToManyStealsFromPreviousHolder(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	post := saved(t, m, "Post")
	pid := idOf(t, post)

	first := newInst(t, m, "User")
	require.NoError(t, first.SetIDs("approved_articles_ids", pid))
	require.NoError(t, first.Save(ctx))
	v, ok := scalar(t, store, "Post#1:approver_id")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	second := newInst(t, m, "User")
	require.NoError(t, second.SetIDs("approved_articles_ids", pid))
	require.NoError(t, second.Save(ctx))

	v, _ = scalar(t, store, "Post#1:approver_id")
	assert.Equal(t, "2", v)
	assert.Empty(t, members(t, store, "User#1:approved_articles_ids"))
	assert.Equal(t, []string{"1"}, members(t, store, "User#2:approved_articles_ids"))

	approver, err := post.RelatedOne(ctx, "approver", "email")
	require.NoError(t, err)
	require.NotNil(t, approver)
	assert.Equal(t, idOf(t, second), idOf(t, approver))
}

func TestOneToManyWithoutInverse(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withoutInverse)
	article := saved(t, m, "Article")

	first := newInst(t, m, "Person")
	require.NoError(t, first.SetIDs("approved_articles_ids", idOf(t, article)))
	require.NoError(t, first.Save(ctx))
	v, _ := scalar(t, store, "Article#1:Person:approved_articles_ids")
	assert.Equal(t, "1", v)

	second := newInst(t, m, "Person")
	require.NoError(t, second.SetIDs("approved_articles_ids", idOf(t, article)))
	require.NoError(t, second.Save(ctx))
	v, _ = scalar(t, store, "Article#1:Person:approved_articles_ids")
	assert.Equal(t, "2", v)
	assert.Empty(t, members(t, store, "Person#1:approved_articles_ids"))

	require.NoError(t, second.SetIDs("approved_articles_ids"))
	require.NoError(t, second.Save(ctx))
	_, ok := scalar(t, store, "Article#1:Person:approved_articles_ids")
	assert.False(t, ok)
}

func TestManyToOneCollectsHolders(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	u1, u2 := saved(t, m, "User"), saved(t, m, "User")

	var posts []*Instance
	for range 2 {
		p := newInst(t, m, "Post")
		require.NoError(t, p.SetRef("approver_id", idOf(t, u1)))
		require.NoError(t, p.Save(ctx))
		posts = append(posts, p)
	}
	assert.Equal(t, []string{"1", "2"}, members(t, store, "User#1:approved_articles_ids"))

	require.NoError(t, posts[0].SetRef("approver_id", idOf(t, u2)))
	require.NoError(t, posts[0].Save(ctx))
	assert.Equal(t, []string{"2"}, members(t, store, "User#1:approved_articles_ids"))
	assert.Equal(t, []string{"1"}, members(t, store, "User#2:approved_articles_ids"))

	approved, err := u1.Related(ctx, "approved_articles", "title")
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, int64(2), idOf(t, approved[0]))
}

func TestManyToOneWithoutInverse(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withoutInverse)
	person := saved(t, m, "Person")

	article := newInst(t, m, "Article")
	require.NoError(t, article.SetRef("editor_id", idOf(t, person)))
	require.NoError(t, article.Save(ctx))
	assert.Equal(t, []string{"1"}, members(t, store, "Person#1:Article:editor_id"))

	require.NoError(t, article.ClearRef("editor_id"))
	require.NoError(t, article.Save(ctx))
	assert.Empty(t, members(t, store, "Person#1:Article:editor_id"))
	_, ok := scalar(t, store, "Article#1:editor_id")
	assert.False(t, ok)
}

func TestOneToOneMirrorsAndClears(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	media, err := m.Ref("Media", 42)
	require.NoError(t, err)
	require.NoError(t, media.SetString("location", "/tmp/hello.png"))
	require.NoError(t, media.Save(ctx))

	post := newInst(t, m, "Post")
	require.NoError(t, post.SetRef("featured_image_id", 42))
	require.NoError(t, post.Save(ctx))

	v, ok := scalar(t, store, "Media#42:post_featured_id")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	featured, err := media.RelatedOne(ctx, "post_featured")
	require.NoError(t, err)
	require.NotNil(t, featured)
	assert.Equal(t, int64(1), idOf(t, featured))

	image, err := post.RelatedOne(ctx, "featured_image", "location")
	require.NoError(t, err)
	loc, _, _ := image.GetString("location")
	assert.Equal(t, "/tmp/hello.png", loc)

	require.NoError(t, post.ClearRef("featured_image_id"))
	require.NoError(t, post.Save(ctx))
	_, ok = scalar(t, store, "Media#42:post_featured_id")
	assert.False(t, ok)

	none, err := media.RelatedOne(ctx, "post_featured")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestOneToOneStealsFromPreviousHolder(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)

	first := newInst(t, m, "Post")
	require.NoError(t, first.SetRef("featured_image_id", 42))
	require.NoError(t, first.Save(ctx))
	second := newInst(t, m, "Post")
	require.NoError(t, second.SetRef("featured_image_id", 42))
	require.NoError(t, second.Save(ctx))

	v, _ := scalar(t, store, "Media#42:post_featured_id")
	assert.Equal(t, "2", v)
	_, ok := scalar(t, store, "Post#1:featured_image_id")
	assert.False(t, ok, "the previous holder loses the reference")

	// Clearing the stale holder must not drop the new holder's backlink.
	require.NoError(t, first.ClearRef("featured_image_id"))
	require.NoError(t, first.Save(ctx))
	v, _ = scalar(t, store, "Media#42:post_featured_id")
	assert.Equal(t, "2", v)

	require.NoError(t, second.Load(ctx, "featured_image_id"))
	ref, ok, err := second.GetRef("featured_image_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), ref)
}

func TestDeleteCascadesManyToMany(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	p1, p2 := saved(t, m, "Post"), saved(t, m, "Post")
	user := newInst(t, m, "User")
	require.NoError(t, user.SetIDs("posts_ids", idOf(t, p1), idOf(t, p2)))
	require.NoError(t, user.Save(ctx))

	require.NoError(t, p1.Delete(ctx))
	assert.Equal(t, []string{"2"}, members(t, store, "User#1:posts_ids"))
	assert.Empty(t, members(t, store, "Post#1:authors_ids"))

	require.NoError(t, user.Delete(ctx))
	assert.Empty(t, members(t, store, "Post#2:authors_ids"))
	require.NoError(t, p2.Delete(ctx))
	assert.Empty(t, nonCounterKeys(t, store))
}

func TestDeleteCascadesOneToMany(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	post := saved(t, m, "Post")
	user := newInst(t, m, "User")
	require.NoError(t, user.SetIDs("approved_articles_ids", idOf(t, post)))
	require.NoError(t, user.Save(ctx))

	require.NoError(t, post.Delete(ctx))
	assert.Empty(t, members(t, store, "User#1:approved_articles_ids"))
	_, ok := scalar(t, store, "Post#1:approver_id")
	assert.False(t, ok)
}

func TestDeleteCascadesManyToOne(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	user := saved(t, m, "User")
	post := newInst(t, m, "Post")
	require.NoError(t, post.SetString("title", "kept"))
	require.NoError(t, post.SetRef("approver_id", idOf(t, user)))
	require.NoError(t, post.Save(ctx))

	require.NoError(t, user.Delete(ctx))
	_, ok := scalar(t, store, "Post#1:approver_id")
	assert.False(t, ok)
	assert.Empty(t, members(t, store, "User#1:approved_articles_ids"))
	title, _ := scalar(t, store, "Post#1:title")
	assert.Equal(t, "kept", title, "only the reference is removed")
}

func TestDeleteCascadesOneToOne(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	post := newInst(t, m, "Post")
	require.NoError(t, post.SetRef("featured_image_id", 42))
	require.NoError(t, post.Save(ctx))

	media, err := m.Ref("Media", 42)
	require.NoError(t, err)
	require.NoError(t, media.Delete(ctx))
	_, ok := scalar(t, store, "Post#1:featured_image_id")
	assert.False(t, ok)
	_, ok = scalar(t, store, "Media#42:post_featured_id")
	assert.False(t, ok)
}

func TestDeleteDetachesOwnRelations(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withoutInverse)
	person := saved(t, m, "Person")
	article := newInst(t, m, "Article")
	require.NoError(t, article.SetRef("editor_id", idOf(t, person)))
	require.NoError(t, article.SetRef("featured_image_id", 9))
	require.NoError(t, article.Save(ctx))

	require.NoError(t, article.Delete(ctx))
	assert.Empty(t, members(t, store, "Person#1:Article:editor_id"))
	_, ok := scalar(t, store, "Picture#9:Article:featured_image_id")
	assert.False(t, ok)
	assert.Empty(t, nonCounterKeys(t, store))
}

func TestDeleteWithoutInverseReleasesHolders(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withoutInverse)
	person := saved(t, m, "Person")
	article := newInst(t, m, "Article")
	require.NoError(t, article.SetRef("editor_id", idOf(t, person)))
	require.NoError(t, article.Save(ctx))

	require.NoError(t, person.Delete(ctx))
	_, ok := scalar(t, store, "Article#1:editor_id")
	assert.False(t, ok)
	assert.Empty(t, nonCounterKeys(t, store))
}

func TestRelatedPagination(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, withInverse)
	ids := make([]int64, 0, 15)
	for i := 1; i <= 15; i++ {
		p := newInst(t, m, "Post")
		require.NoError(t, p.SetString("title", fmt.Sprintf("post %d", i)))
		require.NoError(t, p.SetInt("views", int64(i*10)))
		require.NoError(t, p.Save(ctx))
		ids = append(ids, idOf(t, p))
	}
	user := newInst(t, m, "User")
	require.NoError(t, user.SetIDs("posts_ids", ids...))
	require.NoError(t, user.Save(ctx))

	idsOf := func(list []*Instance) []int64 {
		out := make([]int64, len(list))
		for i, in := range list {
			out[i] = idOf(t, in)
		}
		return out
	}

	page, err := user.Related(ctx, "posts", "title", "views", 5, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6, 7, 8}, idsOf(page))
	title, _, _ := page[0].GetString("title")
	assert.Equal(t, "post 4", title)
	views, _ := page[4].GetInt("views")
	assert.Equal(t, int64(80), views)

	page, err = user.Related(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, ids[:DefaultLimit], idsOf(page))
	_, ok, _ := page[0].GetString("title")
	assert.False(t, ok, "no attributes requested")

	page, err = user.Related(ctx, "posts", "title", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, idsOf(page))

	page, err = user.Related(ctx, "posts", 10, 12)
	require.NoError(t, err)
	assert.Equal(t, []int64{13, 14, 15}, idsOf(page))

	page, err = user.Related(ctx, "posts", 5, 40)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = user.Related(ctx, "posts", math.MaxInt64, 12)
	require.NoError(t, err)
	assert.Equal(t, []int64{13, 14, 15}, idsOf(page))

	page, err = user.Related(ctx, "posts", int64(math.MaxInt64), int64(math.MaxInt64))
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestRelatedReloadsForwardAttribute(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, withInverse)
	post := saved(t, m, "Post")
	user := saved(t, m, "User")

	writer, err := m.Ref("User", idOf(t, user))
	require.NoError(t, err)
	require.NoError(t, writer.SetIDs("posts_ids", idOf(t, post)))
	require.NoError(t, writer.Save(ctx))

	related, err := user.Related(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, related, 1)
	posts, _ := user.GetIDs("posts_ids")
	assert.Equal(t, []int64{idOf(t, post)}, posts)
}

func TestRelatedErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMapper(t, withInverse)
	user := saved(t, m, "User")
	post := saved(t, m, "Post")

	_, err := post.Related(ctx, "approver")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = post.RelatedOne(ctx, "authors")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	var attrErr *AttributeError
	_, err = user.Related(ctx, "friends")
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, "friends", attrErr.Attr)

	_, err = user.Related(ctx, "posts", "nonexistent_attr")
	assert.ErrorIs(t, err, ErrUnknownAttribute)
	_, err = user.Related(ctx, "posts", 2.5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = user.Related(ctx, "posts", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = newInst(t, m, "User").Related(ctx, "posts")
	assert.ErrorIs(t, err, ErrNotPersisted)

	one, err := post.RelatedOne(ctx, "featured_image", "location")
	require.NoError(t, err)
	assert.Nil(t, one)
}

func TestRemoveRelation(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	user := saved(t, m, "User")
	post := newInst(t, m, "Post")
	require.NoError(t, post.SetRef("approver_id", idOf(t, user)))
	require.NoError(t, post.Save(ctx))

	require.NoError(t, post.RemoveRelation(ctx, "approver"))
	_, ok := scalar(t, store, "Post#1:approver_id")
	assert.False(t, ok)
	assert.Empty(t, members(t, store, "User#1:approved_articles_ids"))
	_, ok, _ = post.GetRef("approver_id")
	assert.False(t, ok)

	assert.ErrorIs(t, post.RemoveRelation(ctx, "approver"), ErrNoRelation)
	assert.ErrorIs(t, post.RemoveRelation(ctx, "authors"), ErrTypeMismatch)
	assert.ErrorIs(t, newInst(t, m, "Post").RemoveRelation(ctx, "approver"), ErrNotPersisted)
}

func TestRemoveRelationKeepsUnsavedReference(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	user := saved(t, m, "User")
	post := saved(t, m, "Post")

	require.NoError(t, post.SetRef("approver_id", idOf(t, user)))
	assert.ErrorIs(t, post.RemoveRelation(ctx, "approver"), ErrNoRelation)
	id, ok, err := post.GetRef("approver_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, idOf(t, user), id)
	assert.True(t, post.IsDirty("approver_id"))

	require.NoError(t, post.Save(ctx))
	v, ok := scalar(t, store, "Post#1:approver_id")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, []string{"1"}, members(t, store, "User#1:approved_articles_ids"))
}

func TestRemoveIDLeavesBacklinks(t *testing.T) {
	ctx := context.Background()
	m, store := newTestMapper(t, withInverse)
	p1, p2 := saved(t, m, "Post"), saved(t, m, "Post")
	user := newInst(t, m, "User")
	require.NoError(t, user.SetIDs("posts_ids", idOf(t, p1), idOf(t, p2)))
	require.NoError(t, user.Save(ctx))

	require.NoError(t, user.RemoveID(ctx, "posts_ids", idOf(t, p1)))
	assert.Equal(t, []string{"2"}, members(t, store, "User#1:posts_ids"))
	assert.Equal(t, []string{"1"}, members(t, store, "Post#1:authors_ids"))
	posts, _ := user.GetIDs("posts_ids")
	assert.Equal(t, []int64{2}, posts)

	assert.ErrorIs(t, user.RemoveID(ctx, "email", 1), ErrTypeMismatch)
}

func TestParseLoadArgs(t *testing.T) {
	cases := []struct {
		name          string
		args          []any
		attrs         []string
		limit, offset int
		err           error
	}{
		{"defaults", nil, []string{}, DefaultLimit, DefaultOffset, nil},
		{"attributes only", []any{"title", "views"}, []string{"title", "views"}, DefaultLimit, DefaultOffset, nil},
		{"limit", []any{"title", 5}, []string{"title"}, 5, 0, nil},
		{"limit and offset", []any{"title", 5, 3}, []string{"title"}, 5, 3, nil},
		{"int64 page", []any{int64(2), int64(1)}, []string{}, 2, 1, nil},
		{"negative offset", []any{5, -3}, nil, 0, 0, ErrInvalidArgument},
		{"non-string attribute", []any{true, 5}, nil, 0, 0, ErrInvalidArgument},
		{"three numbers", []any{1, 2, 3}, nil, 0, 0, ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attrs, limit, offset, err := parseLoadArgs(tc.args)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.attrs, attrs)
			assert.Equal(t, tc.limit, limit)
			assert.Equal(t, tc.offset, offset)
		})
	}
}
