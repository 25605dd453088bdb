package config_test

import (
	"errors"
	"testing"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgate/voxgate/pkg/provider/llm/mock"
	"github.com/voxgate/voxgate/pkg/provider/tts"
	ttsmock "github.com/voxgate/voxgate/pkg/provider/tts/mock"
)

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotCfg config.LLMConfig
	reg.RegisterLLM("mock", func(cfg config.LLMConfig) (llm.Provider, error) {
		gotCfg = cfg
		return &llmmock.Provider{}, nil
	})

	p, err := reg.CreateLLM(config.LLMConfig{Provider: "mock", Model: "test-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider")
	}
	if gotCfg.Model != "test-model" {
		t.Errorf("factory should receive the config section, got model %q", gotCfg.Model)
	}
}

func TestRegistry_CreateTTS(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterTTS("mock", func(cfg config.TTSConfig) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	if _, err := reg.CreateTTS(config.TTSConfig{Provider: "mock"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateLLM(config.LLMConfig{Provider: "openai"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: got %v, want ErrProviderNotRegistered", err)
	}

	_, err = reg.CreateTTS(config.TTSConfig{Provider: "elevenlabs"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_LaterRegistrationWins(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	reg.RegisterLLM("mock", func(config.LLMConfig) (llm.Provider, error) {
		t.Error("overwritten factory should not be called")
		return nil, nil
	})
	called := false
	reg.RegisterLLM("mock", func(config.LLMConfig) (llm.Provider, error) {
		called = true
		return &llmmock.Provider{}, nil
	})

	if _, err := reg.CreateLLM(config.LLMConfig{Provider: "mock"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("replacement factory was not called")
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	sentinel := errors.New("bad key")
	reg.RegisterLLM("openai", func(config.LLMConfig) (llm.Provider, error) {
		return nil, sentinel
	})

	_, err := reg.CreateLLM(config.LLMConfig{Provider: "openai"})
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v, want factory error", err)
	}
}
