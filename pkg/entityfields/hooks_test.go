package entityfields_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/merged-fields/pkg/entityfields"
)

func TestHooks_BeforeEntityRenderSkipsEntity(t *testing.T) {
	env := newTestEnv(t)
	var displays []string
	hooks := &entityfields.Hooks{
		BeforeEntityRender: []entityfields.BeforeEntityRenderHook{
			func(hctx *entityfields.HookContext, entity *entityfields.Entity, display *entityfields.Display) error {
				displays = append(displays, display.ID)
				if entity.ID == "1" {
					return errors.New("embargoed")
				}
				return nil
			},
		},
	}
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithHooks(hooks))

	out := f.ViewElements(context.Background(), nodeField(), items("1", "3"), "en")

	assert.Equal(t, []string{"node.article.default", "node.page.default"}, displays)
	assert.Equal(t, []string{"3"}, renderedIDs(out))
	assert.Contains(t, out.Cache.Tags, "node:1")
}

func TestHooks_AfterEntityRenderStopChain(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	hooks := &entityfields.Hooks{
		AfterEntityRender: []entityfields.AfterEntityRenderHook{
			func(hctx *entityfields.HookContext, rendered *entityfields.RenderedEntity) error {
				calls++
				rendered.Elements = append(rendered.Elements, entityfields.Element{Key: "extra", Weight: 100})
				hctx.StopChain = true
				return nil
			},
			func(hctx *entityfields.HookContext, rendered *entityfields.RenderedEntity) error {
				calls++
				return errors.New("never reached")
			},
		},
	}
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithHooks(hooks))

	out := f.ViewElements(context.Background(), nodeField(), items("3"), "en")

	require.Len(t, out.Items, 1)
	assert.Equal(t, 1, calls)
	last := out.Items[0].Elements[len(out.Items[0].Elements)-1]
	assert.Equal(t, "extra", last.Key)
}

func TestHooks_Merge(t *testing.T) {
	a := &entityfields.Hooks{OnError: []entityfields.ErrorHook{func(*entityfields.HookContext, string, error) {}}}
	b := &entityfields.Hooks{OnError: []entityfields.ErrorHook{func(*entityfields.HookContext, string, error) {}}}

	merged := a.Merge(b).Merge(nil)
	assert.Len(t, merged.OnError, 2)
	assert.Len(t, a.OnError, 1)
}

func TestLoggingHook(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := env.formatter(t, entityfields.DefaultSettings(), entityfields.WithHooks(entityfields.LoggingHook(logger)))

	f.ViewElements(context.Background(), nodeField(), items("3"), "en")

	assert.Contains(t, buf.String(), "Entity rendered")
	assert.Contains(t, buf.String(), "entity_id=3")
}
