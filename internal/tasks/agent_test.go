package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/services"
	"github.com/desertthunder/aria/internal/shared"
	tu "github.com/desertthunder/aria/internal/testing"
)

// scriptedChat replies in order and keeps every transcript it was sent.
type scriptedChat struct {
	replies     []services.ChatMessage
	err         error
	transcripts [][]services.ChatMessage
}

func (c *scriptedChat) Complete(ctx context.Context, messages []services.ChatMessage, tools []services.Tool) (*services.ChatMessage, error) {
	c.transcripts = append(c.transcripts, slices.Clone(messages))
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return &services.ChatMessage{Role: "assistant", Content: "done"}, nil
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return &reply, nil
}

// toolOutputs returns the tool messages of the last transcript.
func (c *scriptedChat) toolOutputs() map[string]string {
	out := make(map[string]string)
	if len(c.transcripts) == 0 {
		return out
	}
	for _, m := range c.transcripts[len(c.transcripts)-1] {
		if m.Role == "tool" {
			out[m.ToolCallID] = m.Content
		}
	}
	return out
}

func callTools(calls ...services.ToolCall) services.ChatMessage {
	return services.ChatMessage{Role: "assistant", ToolCalls: calls}
}

func toolCall(id, name string, args any) services.ToolCall {
	raw, _ := json.Marshal(args)
	return services.ToolCall{ID: id, Type: "function", Function: services.FunctionCall{Name: name, Arguments: string(raw)}}
}

func answer(text string) services.ChatMessage {
	return services.ChatMessage{Role: "assistant", Content: text}
}

func fastAgent(chat Completer, maxTracks, maxSteps int) *Agent {
	return NewAgent(AgentOpts{Chat: chat, MaxTracks: maxTracks, MaxSteps: maxSteps, RateLimit: 1000})
}

func TestAgent_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("drives the tools", func(t *testing.T) {
		svc := &tu.MockService{Results: map[string][]models.Track{"lofi": tracks("l", 5)}}
		chat := &scriptedChat{replies: []services.ChatMessage{
			callTools(toolCall("c1", ToolCreatePlaylist, map[string]any{"name": "Rainy Lofi", "description": "soft beats", "public": true})),
			callTools(toolCall("c2", ToolSearchItems, map[string]any{"query": "lofi", "limit": 5})),
			callTools(toolCall("c3", ToolAddTracks, map[string]any{
				"playlist_id": "playlist-1",
				"uris":        []string{"spotify:track:l0", "spotify:track:l1", "spotify:track:l0"},
			})),
			answer("Rainy Lofi: soft beats for a grey afternoon."),
		}}

		progress := make(chan ProgressUpdate, 100)
		result, err := fastAgent(chat, 20, 10).Generate(ctx, svc, "lofi for rainy days", progress)
		close(progress)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		if len(svc.Created) != 1 || svc.Created[0].Name != "Rainy Lofi" {
			t.Fatalf("unexpected playlists %+v", svc.Created)
		}
		if got := svc.Added["playlist-1"]; !slices.Equal(got, []string{"spotify:track:l0", "spotify:track:l1"}) {
			t.Errorf("unexpected added tracks %q", got)
		}
		if result.PlaylistName != "Rainy Lofi" || result.PlaylistURL != svc.Created[0].URL {
			t.Errorf("unexpected result %+v", result)
		}
		if result.Summary != "Rainy Lofi: soft beats for a grey afternoon." {
			t.Errorf("expected the model's summary, got %q", result.Summary)
		}

		first := chat.transcripts[0]
		if len(first) != 2 || first[0].Role != "system" || first[1].Content != "lofi for rainy days" {
			t.Errorf("unexpected opening transcript %+v", first)
		}
		if out := chat.toolOutputs()["c2"]; !strings.Contains(out, "spotify:track:l4") {
			t.Errorf("search output should list track URIs, got %s", out)
		}
		if out := chat.toolOutputs()["c3"]; out != `{"added":2}` {
			t.Errorf("unexpected add output %s", out)
		}

		var phases []Phase
		for update := range progress {
			phases = append(phases, update.Phase)
		}
		for _, want := range []Phase{AskModel, CreatePlaylist, SearchTracks, AddTracks, Complete} {
			if !slices.Contains(phases, want) {
				t.Errorf("expected %s progress, got %v", want, phases)
			}
		}
	})

	t.Run("tool errors go back to the model", func(t *testing.T) {
		svc := &tu.MockService{}
		chat := &scriptedChat{replies: []services.ChatMessage{
			callTools(
				toolCall("c1", "play_song", map[string]any{}),
				services.ToolCall{ID: "c2", Function: services.FunctionCall{Name: ToolSearchItems, Arguments: "{not json"}},
				toolCall("c3", ToolAddTracks, map[string]any{"playlist_id": "x", "uris": []string{"spotify:track:1"}}),
			),
			answer("Sorry, nothing matched."),
		}}

		result, err := fastAgent(chat, 20, 5).Generate(ctx, svc, "anything", nil)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		outputs := chat.toolOutputs()
		if !strings.Contains(outputs["c1"], "unknown function play_song") {
			t.Errorf("unexpected unknown tool output %s", outputs["c1"])
		}
		if !strings.Contains(outputs["c2"], "invalid arguments") {
			t.Errorf("unexpected invalid arguments output %s", outputs["c2"])
		}
		if !strings.Contains(outputs["c3"], "create the playlist") {
			t.Errorf("unexpected add output %s", outputs["c3"])
		}
		if result.PlaylistURL != "" || result.Summary != "Sorry, nothing matched." {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("creates one playlist and keeps the budget", func(t *testing.T) {
		svc := &tu.MockService{Results: map[string][]models.Track{"rock": tracks("r", 6)}}
		chat := &scriptedChat{replies: []services.ChatMessage{
			callTools(toolCall("c1", ToolCreatePlaylist, map[string]any{"name": "Road Trip", "description": "", "public": true})),
			callTools(
				toolCall("c2", ToolCreatePlaylist, map[string]any{"name": "Road Trip 2", "description": "", "public": true}),
				toolCall("c3", ToolSearchItems, map[string]any{"query": "rock"}),
			),
			callTools(toolCall("c4", ToolAddTracks, map[string]any{
				"playlist_id": "playlist-1",
				"uris":        []string{"spotify:track:r0", "spotify:track:r1", "spotify:track:r2", "spotify:track:r3"},
			})),
			answer(""),
		}}

		result, err := fastAgent(chat, 3, 10).Generate(ctx, svc, "road trip rock", nil)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		if len(svc.Created) != 1 {
			t.Errorf("expected one playlist, got %d", len(svc.Created))
		}
		if got := len(svc.Added["playlist-1"]); got != 3 {
			t.Errorf("expected 3 tracks within budget, got %d", got)
		}
		if !strings.Contains(chat.toolOutputs()["c2"], "already created") {
			t.Errorf("second create should be refused, got %s", chat.toolOutputs()["c2"])
		}
		if !strings.HasPrefix(result.Summary, "3 tracks") || !strings.Contains(result.Summary, "Artist R") {
			t.Errorf("expected a fallback summary, got %q", result.Summary)
		}
	})

	t.Run("expired token stops the run", func(t *testing.T) {
		svc := &tu.MockService{SearchErr: shared.ErrTokenExpired}
		chat := &scriptedChat{replies: []services.ChatMessage{
			callTools(toolCall("c1", ToolSearchItems, map[string]any{"query": "jazz"})),
		}}

		_, err := fastAgent(chat, 20, 5).Generate(ctx, svc, "jazz", nil)
		if !errors.Is(err, shared.ErrTokenExpired) {
			t.Errorf("expected ErrTokenExpired, got %v", err)
		}
		if len(chat.transcripts) != 1 {
			t.Errorf("model should not be asked again, got %d calls", len(chat.transcripts))
		}
	})

	t.Run("runs out of steps", func(t *testing.T) {
		svc := &tu.MockService{}
		loop := callTools(toolCall("c", ToolSearchItems, map[string]any{"query": "nothing"}))
		chat := &scriptedChat{replies: []services.ChatMessage{loop, loop, loop}}

		_, err := fastAgent(chat, 20, 2).Generate(ctx, svc, "nothing", nil)
		if err == nil || !strings.Contains(err.Error(), "without creating a playlist") {
			t.Errorf("expected step exhaustion error, got %v", err)
		}
		if len(chat.transcripts) != 2 {
			t.Errorf("expected 2 model calls, got %d", len(chat.transcripts))
		}
	})

	t.Run("model failure", func(t *testing.T) {
		chat := &scriptedChat{err: shared.ErrAPIRequest}
		if _, err := fastAgent(chat, 20, 5).Generate(ctx, &tu.MockService{}, "jazz", nil); !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		agent := fastAgent(&scriptedChat{}, 20, 5)
		if _, err := agent.Generate(ctx, nil, "jazz", nil); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
		if _, err := agent.Generate(ctx, &tu.MockService{}, " \x00 ", nil); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := NewAgent(AgentOpts{}).Generate(ctx, &tu.MockService{}, "jazz", nil); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable without a model, got %v", err)
		}
	})
}
