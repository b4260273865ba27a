package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marker(p *fakePage) { p.url = testEdit }

func editReached(ctx context.Context, page Page) (bool, error) {
	loc, err := page.Location(ctx)
	return loc == testEdit, err
}

func TestTriggerFirstStrategyWins(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.onClick["click:#go"] = marker
	trig := Trigger{
		Name:       "go",
		Strategies: []Strategy{ClickStrategy("#go"), ScriptClickStrategy("#go")},
		Settle:     testTimeouts().TriggerSettle,
		Poll:       testTimeouts().Poll,
	}

	name, err := trig.Fire(context.Background(), page, editReached, nil)

	require.NoError(t, err)
	assert.Equal(t, "click", name)
	assert.Equal(t, []string{"click:#go"}, page.clicks)
}

func TestTriggerFallsThroughInOrder(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.clickErr["click:#go"] = errors.New("not interactable")
	page.onClick["submit:#go"] = marker
	trig := Trigger{
		Name: "go",
		Strategies: []Strategy{
			ClickStrategy("#go"),
			ScriptClickStrategy("#go"),
			SubmitStrategy("#go"),
			NavigateStrategy(testUpload),
		},
		Settle: testTimeouts().TriggerSettle,
		Poll:   testTimeouts().Poll,
	}

	name, err := trig.Fire(context.Background(), page, editReached, nil)

	require.NoError(t, err)
	assert.Equal(t, "submit-form", name)
	assert.Equal(t, []string{"click:#go", "script:#go", "submit:#go"}, page.clicks)
	assert.Empty(t, page.navs)
}

func TestTriggerNoEffect(t *testing.T) {
	t.Parallel()
	page := newFakePage()
	page.clickErr["script:#go"] = errors.New("detached")
	trig := Trigger{
		Name:       "go",
		Strategies: []Strategy{ClickStrategy("#go"), ScriptClickStrategy("#go")},
		Settle:     testTimeouts().TriggerSettle,
		Poll:       testTimeouts().Poll,
	}

	_, err := trig.Fire(context.Background(), page, editReached, nil)

	require.ErrorIs(t, err, ErrNoEffect)
	assert.Contains(t, err.Error(), "detached")
}

func TestTriggerEffectError(t *testing.T) {
	t.Parallel()
	boom := errors.New("page crashed")
	trig := Trigger{
		Name:       "go",
		Strategies: []Strategy{ClickStrategy("#go"), ScriptClickStrategy("#go")},
		Settle:     testTimeouts().TriggerSettle,
	}
	page := newFakePage()

	_, err := trig.Fire(context.Background(), page, func(context.Context, Page) (bool, error) {
		return false, boom
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.Len(t, page.clicks, 1)
}

func TestTriggerCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trig := Trigger{Name: "go", Strategies: []Strategy{{
		Name: "fails",
		Run: func(context.Context, Page) error {
			return errors.New("interrupted")
		},
	}}}

	_, err := trig.Fire(ctx, newFakePage(), editReached, nil)

	require.ErrorIs(t, err, context.Canceled)
}
