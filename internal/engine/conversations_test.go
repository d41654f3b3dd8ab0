package engine_test

import (
	"errors"
	"strings"
	"testing"

	"gigline/internal/apperr"
	"gigline/internal/engine"
)

type chatFixture struct {
	env      testEnv
	client   string
	musician string
	convID   string
}

func newChatFixture(t *testing.T) chatFixture {
	t.Helper()
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	musician := mustUser(t, env, "Musician", "mus@band.com")
	j := mustPublishedJob(t, env, client.ID)
	p, err := env.Engine.SubmitProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID: j.ID, MusicianID: musician.ID, QuoteTotal: 55000, DeliveryDays: 14, ActorID: musician.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.AcceptProposal(env.Ctx, p.ID, client.ID)
	if err != nil {
		t.Fatal(err)
	}
	return chatFixture{env: env, client: client.ID, musician: musician.ID, convID: res.Conversation.ID}
}

func TestCreateConversationParentRules(t *testing.T) {
	env := newTestEnv(t)
	client := mustUser(t, env, "Client", "client@label.com")
	musician := mustUser(t, env, "Musician", "mus@band.com")
	j := mustPublishedJob(t, env, client.ID)

	// exactly one parent
	if _, err := env.Engine.CreateConversation(env.Ctx, engine.ConversationCreateOptions{
		ActorID: client.ID,
	}); !errors.Is(err, apperr.ErrInvalidParent) {
		t.Fatalf("no parent: got %v", err)
	}
	if _, err := env.Engine.CreateConversation(env.Ctx, engine.ConversationCreateOptions{
		JobID: j.ID, ContractID: "c1", ActorID: client.ID,
	}); !errors.Is(err, apperr.ErrInvalidParent) {
		t.Fatalf("both parents: got %v", err)
	}
	if _, err := env.Engine.CreateConversation(env.Ctx, engine.ConversationCreateOptions{
		JobID: "missing", ActorID: client.ID,
	}); err == nil {
		t.Fatal("expected not found for unknown job parent")
	}

	conv, err := env.Engine.CreateConversation(env.Ctx, engine.ConversationCreateOptions{
		JobID:          j.ID,
		ParticipantIDs: []string{musician.ID, musician.ID, client.ID},
		ActorID:        client.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.JobID == nil || *conv.JobID != j.ID {
		t.Fatalf("conversation parent = %+v", conv)
	}
	parts, err := env.Engine.Repo.ListParticipants(env.Ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	// duplicates collapse, creator counted once
	if len(parts) != 2 {
		t.Fatalf("participants = %d, want 2", len(parts))
	}
}

func TestAddParticipant(t *testing.T) {
	fx := newChatFixture(t)
	third := mustUser(t, fx.env, "Engineer", "eng@studio.io")

	pt, err := fx.env.Engine.AddParticipant(fx.env.Ctx, fx.convID, third.ID, fx.client)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if pt.UserID != third.ID || pt.LastReadAt != nil {
		t.Fatalf("participant = %+v", pt)
	}
	if _, err := fx.env.Engine.AddParticipant(fx.env.Ctx, fx.convID, third.ID, fx.client); !errors.Is(err, apperr.ErrDuplicateParticipant) {
		t.Fatalf("duplicate add: got %v", err)
	}
	if _, err := fx.env.Engine.AddParticipant(fx.env.Ctx, fx.convID, "missing", fx.client); err == nil {
		t.Fatal("expected not found for unknown user")
	}
}

func TestPostMessageRules(t *testing.T) {
	fx := newChatFixture(t)
	outsider := mustUser(t, fx.env, "Outsider", "out@side.com")

	if _, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, fx.client, "   "); err == nil {
		t.Fatal("expected error for blank body")
	}
	long := strings.Repeat("a", fx.env.Engine.Config.Limits.MessageMaxChars+1)
	if _, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, fx.client, long); err == nil {
		t.Fatal("expected error for oversized body")
	}
	if _, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, outsider.ID, "hi"); !errors.Is(err, apperr.ErrNotParticipant) {
		t.Fatalf("post by outsider: got %v", err)
	}

	m, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, fx.client, "  Sending stems tonight.  ")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if m.Body != "Sending stems tonight." {
		t.Fatalf("body = %q", m.Body)
	}
}

func TestUnreadCounts(t *testing.T) {
	fx := newChatFixture(t)

	// fresh conversation, nothing unread
	for _, uid := range []string{fx.client, fx.musician} {
		n, err := fx.env.Engine.UnreadCount(fx.env.Ctx, fx.convID, uid)
		if err != nil || n != 0 {
			t.Fatalf("fresh unread for %s: %v (%d)", uid, err, n)
		}
	}

	for _, body := range []string{"first", "second", "third"} {
		if _, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, fx.client, body); err != nil {
			t.Fatal(err)
		}
	}

	// sender reads their own messages implicitly
	n, err := fx.env.Engine.UnreadCount(fx.env.Ctx, fx.convID, fx.client)
	if err != nil || n != 0 {
		t.Fatalf("sender unread: %v (%d)", err, n)
	}
	n, err = fx.env.Engine.UnreadCount(fx.env.Ctx, fx.convID, fx.musician)
	if err != nil || n != 3 {
		t.Fatalf("recipient unread: %v (%d), want 3", err, n)
	}

	if err := fx.env.Engine.MarkConversationRead(fx.env.Ctx, fx.convID, fx.musician); err != nil {
		t.Fatal(err)
	}
	n, _ = fx.env.Engine.UnreadCount(fx.env.Ctx, fx.convID, fx.musician)
	if n != 0 {
		t.Fatalf("unread after mark read = %d", n)
	}

	if _, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, fx.client, "fourth"); err != nil {
		t.Fatal(err)
	}
	n, _ = fx.env.Engine.UnreadCount(fx.env.Ctx, fx.convID, fx.musician)
	if n != 1 {
		t.Fatalf("unread after new message = %d, want 1", n)
	}
}

func TestMarkReadRequiresMembership(t *testing.T) {
	fx := newChatFixture(t)
	outsider := mustUser(t, fx.env, "Outsider", "out@side.com")
	if err := fx.env.Engine.MarkConversationRead(fx.env.Ctx, fx.convID, outsider.ID); !errors.Is(err, apperr.ErrNotParticipant) {
		t.Fatalf("mark read by outsider: got %v", err)
	}
	// a missing conversation is not-found, not a membership failure
	err := fx.env.Engine.MarkConversationRead(fx.env.Ctx, "no-such-conversation", fx.client)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeNotFound {
		t.Fatalf("mark read on missing conversation: got %v", err)
	}
}

func TestGetConversationView(t *testing.T) {
	fx := newChatFixture(t)
	outsider := mustUser(t, fx.env, "Outsider", "out@side.com")

	for _, body := range []string{"one", "two", "three"} {
		if _, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, fx.musician, body); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := fx.env.Engine.GetConversation(fx.env.Ctx, fx.convID, outsider.ID, 10, "", ""); !errors.Is(err, apperr.ErrNotParticipant) {
		t.Fatalf("view by outsider: got %v", err)
	}

	view, err := fx.env.Engine.GetConversation(fx.env.Ctx, fx.convID, fx.client, 2, "", "")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Participants) != 2 {
		t.Errorf("participants = %d", len(view.Participants))
	}
	if len(view.Messages) != 2 {
		t.Fatalf("page size = %d, want 2", len(view.Messages))
	}
	// newest first
	if view.Messages[0].Body != "three" || view.Messages[1].Body != "two" {
		t.Errorf("page order = %q, %q", view.Messages[0].Body, view.Messages[1].Body)
	}
	if view.UnreadCount != 3 {
		t.Errorf("unread in view = %d, want 3", view.UnreadCount)
	}

	// next page via the last row's cursor
	last := view.Messages[len(view.Messages)-1]
	view, err = fx.env.Engine.GetConversation(fx.env.Ctx, fx.convID, fx.client, 2, last.CreatedAt, last.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Messages) != 1 || view.Messages[0].Body != "one" {
		t.Fatalf("second page = %+v", view.Messages)
	}
}

func TestListConversationsOrderAndSummary(t *testing.T) {
	fx := newChatFixture(t)
	// a second thread under the same job, created later
	j := mustPublishedJob(t, fx.env, fx.client)
	conv2, err := fx.env.Engine.CreateConversation(fx.env.Ctx, engine.ConversationCreateOptions{
		JobID:          j.ID,
		ParticipantIDs: []string{fx.musician},
		ActorID:        fx.client,
	})
	if err != nil {
		t.Fatal(err)
	}

	// activity bumps the first thread back to the top
	if _, err := fx.env.Engine.PostMessage(fx.env.Ctx, fx.convID, fx.client, "still there?"); err != nil {
		t.Fatal(err)
	}

	sums, err := fx.env.Engine.ListConversationsForUser(fx.env.Ctx, fx.musician, 10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	if sums[0].Conversation.ID != fx.convID {
		t.Errorf("most recent thread = %s, want %s", sums[0].Conversation.ID, fx.convID)
	}
	if sums[0].LastMessage == nil || sums[0].LastMessage.Body != "still there?" {
		t.Errorf("last message = %+v", sums[0].LastMessage)
	}
	if sums[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", sums[0].UnreadCount)
	}
	if sums[1].Conversation.ID != conv2.ID {
		t.Errorf("older thread = %s", sums[1].Conversation.ID)
	}
	if sums[1].LastMessage != nil {
		t.Errorf("empty thread last message = %+v", sums[1].LastMessage)
	}
}
