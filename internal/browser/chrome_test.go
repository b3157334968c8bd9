package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

const lookupPageHTML = `<!doctype html><html><body>
<input id="term" type="text">
<button id="go" onclick="document.getElementById('result').style.display='block'">Go</button>
<div id="result" style="display:none"><span class="value">#dc143c</span></div>
</body></html>`

func TestChromePoolEndToEnd(t *testing.T) {
	metrics.Init()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, lookupPageHTML)
	}))
	defer srv.Close()

	cfg := Config{
		PoolSize:            1,
		UsageLimit:          5,
		Headless:            true,
		CreateRetries:       1,
		CreateRetryDelay:    100 * time.Millisecond,
		AcquirePollInterval: 50 * time.Millisecond,
		HealthInterval:      -1,
		PageLoadTimeout:     10 * time.Second,
		InteractionTimeout:  10 * time.Second,
	}
	launcher := NewChromeLauncher(cfg, zap.NewNop())
	pool, err := NewPool(context.Background(), cfg, launcher, zap.NewNop())
	if err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}
	defer pool.Close(context.Background())

	ctx := context.Background()
	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(lease)

	require.True(t, lease.Instance().Alive())
	pages, err := lease.Instance().PageCount(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, pages, 1)

	page, err := OpenPage(lease, cfg, zap.NewNop())
	require.NoError(t, err)
	defer page.Close()

	if err := page.Navigate(ctx, srv.URL); err != nil {
		t.Skipf("navigate failed: %v", err)
	}
	require.NoError(t, page.Type(ctx, "#term", "crimson"))
	require.NoError(t, page.Click(ctx, "#go"))
	require.NoError(t, page.WaitVisible(ctx, "#result"))

	text, err := page.Text(ctx, "#result .value")
	require.NoError(t, err)
	require.Equal(t, "#dc143c", text)
}
