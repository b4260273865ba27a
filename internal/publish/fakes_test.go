package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	testBase     = "https://site.test/"
	testLogin    = "https://site.test/user/login"
	testToken    = "https://api.site.test/user/upload/token"
	testUpload   = "https://site.test/user/upload"
	testEdit     = "https://site.test/a/XYZ/edit"
	testAlbum    = "https://site.test/a/XYZ"
	testPNGBytes = "png"
)

func testSite(t *testing.T) Site {
	t.Helper()
	site, err := CompileSite(testBase, testLogin, testToken, testUpload, DefaultEditPattern, DefaultPublishedPattern)
	if err != nil {
		t.Fatalf("CompileSite() error = %v", err)
	}
	return site
}

func testTimeouts() Timeouts {
	return Timeouts{
		Overlay:       5 * time.Millisecond,
		LoginVerify:   20 * time.Millisecond,
		Target:        200 * time.Millisecond,
		TriggerSettle: 20 * time.Millisecond,
		Upload:        30 * time.Millisecond,
		UploadPoll:    2 * time.Millisecond,
		TagPacing:     time.Millisecond,
		Publish:       50 * time.Millisecond,
		PublishPoll:   2 * time.Millisecond,
		Poll:          2 * time.Millisecond,
	}
}

// fakePage scripts DOM state and URL transitions. Hooks run with the lock
// held and mutate fields directly.
type fakePage struct {
	mu sync.Mutex

	url      string
	visible  map[string]bool
	counts   map[string]int
	texts    map[string]string
	hidden   map[string]string
	titles   map[string]string
	fills    []string
	navs     []string
	clicks   []string
	enters   []string
	removed  []string
	files    []string
	requests []APIRequest
	restored []SessionState
	closed   bool

	clickErr map[string]error
	onClick  map[string]func(p *fakePage)
	onNav    func(p *fakePage, url string)
	onFiles  func(p *fakePage, paths []string)
	resp     APIResponse
	respErr  error
}

func newFakePage() *fakePage {
	return &fakePage{
		visible:  map[string]bool{},
		counts:   map[string]int{},
		texts:    map[string]string{},
		hidden:   map[string]string{},
		titles:   map[string]string{},
		clickErr: map[string]error{},
		onClick:  map[string]func(p *fakePage){},
	}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navs = append(p.navs, url)
	p.url = url
	if p.onNav != nil {
		p.onNav(p, url)
	}
	return nil
}

func (p *fakePage) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Visible(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[selector], nil
}

func (p *fakePage) Count(_ context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[selector], nil
}

func (p *fakePage) Text(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.texts[selector], nil
}

func (p *fakePage) click(kind, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, kind+":"+selector)
	if err := p.clickErr[kind+":"+selector]; err != nil {
		return err
	}
	if fn := p.onClick[kind+":"+selector]; fn != nil {
		fn(p)
	} else if fn := p.onClick[selector]; fn != nil {
		fn(p)
	}
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	return p.click("click", selector)
}

func (p *fakePage) ClickScript(_ context.Context, selector string) error {
	return p.click("script", selector)
}

func (p *fakePage) SubmitForm(_ context.Context, selector string) error {
	return p.click("submit", selector)
}

func (p *fakePage) Remove(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, selector)
	delete(p.visible, selector)
	delete(p.counts, selector)
	return nil
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, selector+"="+value)
	return nil
}

func (p *fakePage) SetText(_ context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.titles[selector] = text
	return nil
}

func (p *fakePage) SetValue(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden[selector] = value
	return nil
}

func (p *fakePage) PressEnter(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enters = append(p.enters, selector)
	return nil
}

func (p *fakePage) SetFiles(_ context.Context, _ string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, paths...)
	if p.onFiles != nil {
		p.onFiles(p, paths)
	}
	return nil
}

func (p *fakePage) Screenshot(context.Context, string) ([]byte, error) {
	return []byte(testPNGBytes), nil
}

func (p *fakePage) Request(_ context.Context, req APIRequest) (APIResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.resp, p.respErr
}

func (p *fakePage) RestoreSession(_ context.Context, state SessionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restored = append(p.restored, state)
	return nil
}

func (p *fakePage) SaveSession(context.Context) (SessionState, error) {
	return SessionState{Cookies: []Cookie{{Name: "sid", Value: "v"}}}, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) countNavs(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, nav := range p.navs {
		if nav == url {
			n++
		}
	}
	return n
}

type fakeBrowser struct {
	page   *fakePage
	opened int
}

func (b *fakeBrowser) NewPage(context.Context) (Page, error) {
	b.opened++
	return b.page, nil
}

// fakeFetcher writes a scratch file for every known name.
type fakeFetcher struct {
	dir     string
	known   map[string]bool
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, name string) (string, error) {
	if !f.known[name] {
		return "", &Error{Kind: ErrAssetNotFound, Msg: name}
	}
	path := filepath.Join(f.dir, name+".mp4")
	if err := os.WriteFile(path, []byte("video"), 0o600); err != nil {
		return "", err
	}
	f.fetched = append(f.fetched, path)
	return path, nil
}

type fakeSolver struct {
	answers []string
	err     error
	calls   int
}

func (s *fakeSolver) Solve(context.Context, []byte) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", errors.New("no answer scripted")
	}
	answer := s.answers[0]
	if len(s.answers) > 1 {
		s.answers = s.answers[1:]
	}
	return answer, nil
}

type memoryArtifacts struct {
	mu   sync.Mutex
	keys []string
}

func (m *memoryArtifacts) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, path)
	return fmt.Sprintf("memory://%s", path), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func assertRemoved(t *testing.T, paths []string) {
	t.Helper()
	for _, path := range paths {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s to be removed, stat err = %v", path, err)
		}
	}
}

