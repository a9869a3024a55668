package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertPostsToChat(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bot := NewBotWithURL(srv.URL, "tok", "42", time.Second)
	require.NoError(t, bot.Alert(context.Background(), "2 reminders failed"))

	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.Equal(t, "2 reminders failed", gotText)
}

func TestAlertErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	bot := NewBotWithURL(srv.URL, "tok", "42", time.Second)
	assert.Error(t, bot.Alert(context.Background(), "x"))
}

func TestAlertWithoutChatIsNoop(t *testing.T) {
	var nilBot *Bot
	assert.NoError(t, nilBot.Alert(context.Background(), "x"))
	assert.NoError(t, NewBot("tok", "", time.Second).Alert(context.Background(), "x"))
}
