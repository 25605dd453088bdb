package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/voxgate/voxgate/internal/channel"
)

type fakeREST struct {
	DMChannelID string
	DMErr       error
	SendErr     error

	DMCalls   []string
	SendCalls []struct {
		ChannelID string
		Content   string
	}
}

func (f *fakeREST) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.DMCalls = append(f.DMCalls, recipientID)
	if f.DMErr != nil {
		return nil, f.DMErr
	}
	return &discordgo.Channel{ID: f.DMChannelID}, nil
}

func (f *fakeREST) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.SendCalls = append(f.SendCalls, struct {
		ChannelID string
		Content   string
	}{channelID, content})
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	return &discordgo.Message{}, nil
}

func newTestAdapter(rest *fakeREST) (*Adapter, *[]string) {
	tokens := &[]string{}
	a := New()
	a.newSession = func(token string) (restClient, error) {
		*tokens = append(*tokens, token)
		return rest, nil
	}
	return a, tokens
}

func TestAdapter_SendToChannel(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{}
	a, tokens := newTestAdapter(rest)

	err := a.Send(context.Background(), channel.Outbound{
		TargetID:    "chan-1",
		Text:        "hello",
		Credentials: channel.Credentials{Token: "bot-token"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(*tokens) != 1 || (*tokens)[0] != "bot-token" {
		t.Errorf("session tokens = %v, want [bot-token]", *tokens)
	}
	if len(rest.DMCalls) != 0 {
		t.Errorf("DM calls = %v, want none when target is set", rest.DMCalls)
	}
	if len(rest.SendCalls) != 1 {
		t.Fatalf("send calls = %d, want 1", len(rest.SendCalls))
	}
	if rest.SendCalls[0].ChannelID != "chan-1" || rest.SendCalls[0].Content != "hello" {
		t.Errorf("send = %+v, want chan-1/hello", rest.SendCalls[0])
	}
}

func TestAdapter_SendFallsBackToDM(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{DMChannelID: "dm-9"}
	a, _ := newTestAdapter(rest)

	err := a.Send(context.Background(), channel.Outbound{
		UserExternalID: "user-7",
		Text:           "psst",
		Credentials:    channel.Credentials{Token: "tok"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(rest.DMCalls) != 1 || rest.DMCalls[0] != "user-7" {
		t.Errorf("DM calls = %v, want [user-7]", rest.DMCalls)
	}
	if len(rest.SendCalls) != 1 || rest.SendCalls[0].ChannelID != "dm-9" {
		t.Errorf("send calls = %+v, want one to dm-9", rest.SendCalls)
	}
}

func TestAdapter_SendSplitsLongContent(t *testing.T) {
	t.Parallel()

	rest := &fakeREST{}
	a, _ := newTestAdapter(rest)

	long := strings.Repeat("x", maxMessageLen+10)
	err := a.Send(context.Background(), channel.Outbound{
		TargetID:    "chan-1",
		Text:        long,
		Credentials: channel.Credentials{Token: "tok"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(rest.SendCalls) != 2 {
		t.Fatalf("send calls = %d, want 2 chunks", len(rest.SendCalls))
	}
	if got := len([]rune(rest.SendCalls[0].Content)); got != maxMessageLen {
		t.Errorf("first chunk = %d runes, want %d", got, maxMessageLen)
	}
	if got := len([]rune(rest.SendCalls[1].Content)); got != 10 {
		t.Errorf("second chunk = %d runes, want 10", got)
	}
}

func TestAdapter_SendErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		a := New()
		err := a.Send(context.Background(), channel.Outbound{TargetID: "c", Text: "hi"})
		if err == nil || !strings.Contains(err.Error(), "bot token") {
			t.Fatalf("Send without token: got %v", err)
		}
	})

	t.Run("no target and no user", func(t *testing.T) {
		t.Parallel()
		rest := &fakeREST{}
		a, _ := newTestAdapter(rest)
		err := a.Send(context.Background(), channel.Outbound{
			Text:        "hi",
			Credentials: channel.Credentials{Token: "tok"},
		})
		if err == nil || !strings.Contains(err.Error(), "no target channel") {
			t.Fatalf("Send without destination: got %v", err)
		}
	})

	t.Run("dm open failure", func(t *testing.T) {
		t.Parallel()
		rest := &fakeREST{DMErr: errors.New("forbidden")}
		a, _ := newTestAdapter(rest)
		err := a.Send(context.Background(), channel.Outbound{
			UserExternalID: "user-7",
			Text:           "hi",
			Credentials:    channel.Credentials{Token: "tok"},
		})
		if err == nil || !strings.Contains(err.Error(), "open dm channel") {
			t.Fatalf("Send with DM failure: got %v", err)
		}
	})

	t.Run("send failure", func(t *testing.T) {
		t.Parallel()
		rest := &fakeREST{SendErr: errors.New("rate limited")}
		a, _ := newTestAdapter(rest)
		err := a.Send(context.Background(), channel.Outbound{
			TargetID:    "chan-1",
			Text:        "hi",
			Credentials: channel.Credentials{Token: "tok"},
		})
		if err == nil || !strings.Contains(err.Error(), "rate limited") {
			t.Fatalf("Send with API failure: got %v", err)
		}
	})
}
