package repos

import (
	"context"
	"testing"

	"github.com/contextkeep/ltmc/internal/data/repos/testutil"
	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/pkg/dbctx"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func TestChatCreateMessageValidation(t *testing.T) {
	repo := NewChatRepo(testutil.DB(t), testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	err := repo.CreateMessage(dbc, &domain.ChatMessage{
		ConversationID: "c1", Role: "robot", Content: "hi",
	})
	if !ltmerr.Is(err, ltmerr.KindInvalidParams) {
		t.Fatalf("bad role: want=InvalidParams got=%v", err)
	}

	err = repo.CreateMessage(dbc, &domain.ChatMessage{Role: domain.RoleUser, Content: "hi"})
	if !ltmerr.Is(err, ltmerr.KindInvalidParams) {
		t.Fatalf("missing conversation: want=InvalidParams got=%v", err)
	}

	msg := &domain.ChatMessage{ConversationID: "c1", Role: domain.RoleUser, Content: "hi"}
	if err := repo.CreateMessage(dbc, msg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if msg.ID == 0 {
		t.Fatalf("create must assign an id")
	}
}

func TestChatListByConversationAndTool(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	for _, m := range []*domain.ChatMessage{
		{ConversationID: "c1", Role: domain.RoleUser, Content: "one", SourceTool: "memory"},
		{ConversationID: "c1", Role: domain.RoleAssistant, Content: "two", SourceTool: "memory"},
		{ConversationID: "c2", Role: domain.RoleUser, Content: "three", SourceTool: "todo"},
	} {
		if err := repo.CreateMessage(dbc, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	rows, err := repo.ListByConversation(dbc, "c1", 0)
	if err != nil {
		t.Fatalf("list by conversation: %v", err)
	}
	if len(rows) != 2 || rows[0].Content != "one" || rows[1].Content != "two" {
		t.Fatalf("conversation order: %+v", rows)
	}

	rows, err = repo.ListBySourceTool(dbc, "todo", 0)
	if err != nil {
		t.Fatalf("list by tool: %v", err)
	}
	if len(rows) != 1 || rows[0].Content != "three" {
		t.Fatalf("tool filter: %+v", rows)
	}
}

func TestAddContextLinksIdempotent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	res := testutil.SeedResource(t, ctx, db, "doc.md", "document")
	c0 := testutil.SeedChunk(t, ctx, db, res.ID, 0)
	c1 := testutil.SeedChunk(t, ctx, db, res.ID, 1)
	msg := testutil.SeedMessage(t, ctx, db, "c1", "answer")

	created, err := repo.AddContextLinks(dbc, msg.ID, []int64{c0.ID, c1.ID, c0.ID})
	if err != nil {
		t.Fatalf("add links: %v", err)
	}
	if created != 2 {
		t.Fatalf("links created: want=2 got=%d", created)
	}

	// Replaying the same links creates nothing new.
	created, err = repo.AddContextLinks(dbc, msg.ID, []int64{c0.ID, c1.ID})
	if err != nil {
		t.Fatalf("re-add links: %v", err)
	}
	if created != 0 {
		t.Fatalf("replay created links: want=0 got=%d", created)
	}

	links, err := repo.LinksForMessage(dbc, msg.ID)
	if err != nil {
		t.Fatalf("links for message: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("stored links: want=2 got=%d", len(links))
	}
}

func TestAddContextLinksMissingEndpoints(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	if _, err := repo.AddContextLinks(dbc, 9999, []int64{1}); !ltmerr.Is(err, ltmerr.KindNotFound) {
		t.Fatalf("missing message: want=NotFound got=%v", err)
	}

	msg := testutil.SeedMessage(t, ctx, db, "c1", "answer")
	_, err := repo.AddContextLinks(dbc, msg.ID, []int64{9999})
	if !ltmerr.Is(err, ltmerr.KindIntegrityError) {
		t.Fatalf("missing chunk: want=IntegrityError got=%v", err)
	}
}

func TestRecentContextTypesNewestFirst(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	doc := testutil.SeedResource(t, ctx, db, "doc.md", "document")
	note := testutil.SeedResource(t, ctx, db, "note.md", "note")
	docChunk := testutil.SeedChunk(t, ctx, db, doc.ID, 0)
	noteChunk0 := testutil.SeedChunk(t, ctx, db, note.ID, 0)
	noteChunk1 := testutil.SeedChunk(t, ctx, db, note.ID, 1)

	m1 := testutil.SeedMessage(t, ctx, db, "c1", "first")
	m2 := testutil.SeedMessage(t, ctx, db, "c1", "second")
	other := testutil.SeedMessage(t, ctx, db, "c2", "elsewhere")

	if _, err := repo.AddContextLinks(dbc, m1.ID, []int64{docChunk.ID}); err != nil {
		t.Fatalf("link m1: %v", err)
	}
	if _, err := repo.AddContextLinks(dbc, m2.ID, []int64{noteChunk0.ID, noteChunk1.ID}); err != nil {
		t.Fatalf("link m2: %v", err)
	}
	if _, err := repo.AddContextLinks(dbc, other.ID, []int64{docChunk.ID}); err != nil {
		t.Fatalf("link other conversation: %v", err)
	}

	types, err := repo.RecentContextTypes(dbc, "c1", 10)
	if err != nil {
		t.Fatalf("recent types: %v", err)
	}
	want := []string{"note", "note", "document"}
	if len(types) != len(want) {
		t.Fatalf("types: want=%v got=%v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types: want=%v got=%v", want, types)
		}
	}

	types, err = repo.RecentContextTypes(dbc, "", 10)
	if err != nil || types != nil {
		t.Fatalf("no conversation: want=nil got=%v err=%v", types, err)
	}
}

func TestLinkStatsAndMessagesForChunk(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	res := testutil.SeedResource(t, ctx, db, "doc.md", "document")
	c0 := testutil.SeedChunk(t, ctx, db, res.ID, 0)
	c1 := testutil.SeedChunk(t, ctx, db, res.ID, 1)
	m1 := testutil.SeedMessage(t, ctx, db, "c1", "first")
	m2 := testutil.SeedMessage(t, ctx, db, "c1", "second")

	if _, err := repo.AddContextLinks(dbc, m1.ID, []int64{c0.ID, c1.ID}); err != nil {
		t.Fatalf("link m1: %v", err)
	}
	if _, err := repo.AddContextLinks(dbc, m2.ID, []int64{c0.ID}); err != nil {
		t.Fatalf("link m2: %v", err)
	}

	stats, err := repo.Stats(dbc)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalLinks != 3 || stats.LinkedMessages != 2 || stats.LinkedChunks != 2 {
		t.Fatalf("stats: %+v", stats)
	}

	msgs, err := repo.MessagesForChunk(dbc, c0.ID)
	if err != nil {
		t.Fatalf("messages for chunk: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("chunk provenance: want=2 got=%d", len(msgs))
	}
	msgs, err = repo.MessagesForChunk(dbc, c1.ID)
	if err != nil {
		t.Fatalf("messages for chunk: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "first" {
		t.Fatalf("chunk provenance: %+v", msgs)
	}
}
