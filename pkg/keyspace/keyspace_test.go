package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "Post:last_id", Counter("Post"))
	assert.Equal(t, "Post#42", Entity("Post", 42))
	assert.Equal(t, "Post#42:title", Attr("Post", 42, "title"))
}

func TestBacklink(t *testing.T) {
	tests := []struct {
		name    string
		inverse *Inverse
		want    string
	}{
		{"no inverse", nil, "Post#542:User:posts_ids"},
		{"multi inverse", &Inverse{Method: "authors", Multi: true}, "Post#542:authors_ids"},
		{"single inverse", &Inverse{Method: "approver"}, "Post#542:approver_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backlink("Post", 542, "User", "posts_ids", tt.inverse))
		})
	}
}

func TestModel(t *testing.T) {
	assert.Equal(t, "Post", Model("Post:last_id"))
	assert.Equal(t, "Post", Model("Post#42:User:posts_ids"))
	assert.Equal(t, "Post", Model("Post#42"))
	assert.Equal(t, "orphan", Model("orphan"))
}
