package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worktracker/internal/engine"
	"worktracker/internal/mattermost"
	"worktracker/internal/model"
)

func promptID(t *testing.T, post *mattermost.Post) string {
	t.Helper()
	require.NotEmpty(t, post.Props.Attachments)
	actions := post.Props.Attachments[0].Actions
	require.NotEmpty(t, actions)
	id, ok := actions[0].Integration.Context["prompt_id"].(string)
	require.True(t, ok)
	return id
}

func nextPost(t *testing.T, chat *fakeChat) *mattermost.Post {
	t.Helper()
	select {
	case p := <-chat.sent:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no prompt was sent")
		return nil
	}
}

var startRule = &engine.Rule{From: model.StateOffline, To: model.StateWorking}

func TestPrompter_Confirm(t *testing.T) {
	tests := []struct {
		name    string
		answer  bool
		want    bool
		closing string
	}{
		{name: "yes", answer: true, want: true, closing: "prompt.confirm.accepted"},
		{name: "no", answer: false, want: false, closing: "prompt.confirm.declined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := newFakeChat()
			rec := newCountingRecorder()
			p := NewPrompter(chat, "http://bot", time.Minute, rec)
			u := model.NewUser("u1", "u1", "alice", at(0, 0))

			type result struct {
				ok  bool
				err error
			}
			done := make(chan result, 1)
			go func() {
				ok, err := p.Confirm(context.Background(), u, startRule)
				done <- result{ok, err}
			}()

			post := nextPost(t, chat)
			assert.Equal(t, "dm-u1", post.ChannelID)
			assert.Equal(t, "prompt.confirm.text", post.Message)
			id := promptID(t, post)
			assert.True(t, p.Pending(id))
			assert.Equal(t, "http://bot/api/worktracker/prompt", post.Props.Attachments[0].Actions[0].Integration.URL)

			require.NoError(t, p.Answer(id, "u1", tt.answer))
			res := <-done
			require.NoError(t, res.err)
			assert.Equal(t, tt.want, res.ok)
			assert.False(t, p.Pending(id))

			closed := chat.update(post.ID)
			require.NotNil(t, closed)
			assert.Equal(t, tt.closing, closed.Message)
			assert.Empty(t, closed.Props.Attachments)
			assert.Equal(t, 1, rec.promptAnswers[fmt.Sprintf("confirm/%t", tt.want)])
		})
	}
}

func TestPrompter_ConfirmTimesOut(t *testing.T) {
	chat := newFakeChat()
	p := NewPrompter(chat, "http://bot", 20*time.Millisecond, nil)

	ok, err := p.Confirm(context.Background(), model.NewUser("u1", "u1", "alice", at(0, 0)), startRule)
	require.NoError(t, err)
	assert.False(t, ok)

	post := nextPost(t, chat)
	assert.Equal(t, "prompt.expired", chat.update(post.ID).Message)
}

func TestPrompter_ConfirmHonorsContext(t *testing.T) {
	chat := newFakeChat()
	p := NewPrompter(chat, "http://bot", time.Hour, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := p.Confirm(ctx, model.NewUser("u1", "u1", "alice", at(0, 0)), startRule)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrompter_AnswerErrors(t *testing.T) {
	chat := newFakeChat()
	p := NewPrompter(chat, "http://bot", time.Minute, nil)

	assert.ErrorIs(t, p.Answer("missing", "u1", true), ErrPromptNotFound)

	done := make(chan bool, 1)
	go func() {
		ok, _ := p.Confirm(context.Background(), model.NewUser("u1", "u1", "alice", at(0, 0)), startRule)
		done <- ok
	}()
	id := promptID(t, nextPost(t, chat))

	assert.ErrorIs(t, p.Answer(id, "mallory", true), ErrPromptForbidden)
	assert.Error(t, p.AnswerCheckIn(id, "u1", "09:00"), "confirmation prompts take no time")

	require.NoError(t, p.Answer(id, "u1", true))
	assert.True(t, <-done)
}

func TestPrompter_RequestCheckIn(t *testing.T) {
	now := at(10, 0)
	u := model.NewUser("u1", "u1", "alice", at(0, 0))

	t.Run("other time", func(t *testing.T) {
		chat := newFakeChat()
		p := NewPrompter(chat, "http://bot", time.Minute, nil)
		type result struct {
			at time.Time
			ok bool
		}
		done := make(chan result, 1)
		go func() {
			at, ok := p.RequestCheckIn(context.Background(), u, now)
			done <- result{at, ok}
		}()

		post := nextPost(t, chat)
		assert.Equal(t, "prompt.checkin.text", post.Message)
		actions := post.Props.Attachments[0].Actions
		require.Len(t, actions, 2)
		assert.Equal(t, "now", actions[0].Integration.Context["answer"])
		assert.Equal(t, "dialog", actions[1].Integration.Context["answer"])
		id := promptID(t, post)

		assert.Error(t, p.AnswerCheckIn(id, "u1", "11:00"))
		assert.Error(t, p.AnswerCheckIn(id, "u1", "nine"))
		require.NoError(t, p.AnswerCheckIn(id, "u1", "09:15"))

		res := <-done
		assert.True(t, res.ok)
		assert.Equal(t, at(9, 15), res.at)
		assert.Equal(t, "prompt.checkin.recorded", chat.update(post.ID).Message)
	})

	t.Run("now", func(t *testing.T) {
		chat := newFakeChat()
		p := NewPrompter(chat, "http://bot", time.Minute, nil)
		done := make(chan time.Time, 1)
		go func() {
			at, _ := p.RequestCheckIn(context.Background(), u, now)
			done <- at
		}()

		require.NoError(t, p.Answer(promptID(t, nextPost(t, chat)), "u1", true))
		assert.Equal(t, now, <-done)
	})

	t.Run("unanswered", func(t *testing.T) {
		chat := newFakeChat()
		p := NewPrompter(chat, "http://bot", 20*time.Millisecond, nil)
		_, ok := p.RequestCheckIn(context.Background(), u, now)
		assert.False(t, ok)
	})
}

func TestCheckInResolver(t *testing.T) {
	u := model.NewUser("u1", "u1", "alice", at(0, 0))

	resolve := CheckInResolver(nil)
	_, ok := resolve(context.Background(), u, at(10, 0))
	assert.False(t, ok)

	got, ok := resolve(withCheckIn(context.Background(), at(8, 30)), u, at(10, 0))
	assert.True(t, ok)
	assert.Equal(t, at(8, 30), got)

	fallback := &fixedCheckIn{at: at(9, 0), ok: true}
	got, ok = CheckInResolver(fallback)(context.Background(), u, at(10, 0))
	assert.True(t, ok)
	assert.Equal(t, at(9, 0), got)
	assert.Equal(t, 1, fallback.count())
}
