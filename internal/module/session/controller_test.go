package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veoanimator/server/internal/adapter/outbound/blob"
	"github.com/veoanimator/server/internal/adapter/outbound/credential"
	"github.com/veoanimator/server/internal/adapter/outbound/veo"
	"github.com/veoanimator/server/internal/module/generation"
)

var testImage = &generation.ImageAsset{
	Data:     []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	MIMEType: "image/png",
	FileName: "bride.png",
}

type fakeCapability struct {
	mu       sync.Mutex
	selected bool
	checkErr error
	openErr  error
	token    string
	tokenErr error
	opened   int
	released int
}

func (f *fakeCapability) HasSelectedCredential(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected, f.checkErr
}

func (f *fakeCapability) OpenCredentialSelector(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.openErr != nil {
		return f.openErr
	}
	f.selected = true
	return nil
}

func (f *fakeCapability) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.tokenErr
}

func (f *fakeCapability) Release(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

// fakeGenerator delegates to fn and counts calls.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	reqs  []*generation.Request
	fn    func(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error) {
	g.mu.Lock()
	g.calls++
	g.reqs = append(g.reqs, req)
	fn := g.fn
	g.mu.Unlock()
	return fn(ctx, req, onPhase)
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func authedCapability() *fakeCapability {
	return &fakeCapability{selected: true, token: "key-1"}
}

func newTestController(capability CredentialCapability, gen Generator, blobs generation.BlobStore) *Controller {
	c := NewController("s1", capability, gen, blobs, nil, nil)
	c.CheckAuth(context.Background())
	return c
}

// veoServer serves a provider that finishes on the first poll and returns
// downloadStatus for the video download.
func veoServer(t *testing.T, downloadStatus int) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"operations/op1"}`))
	})
	mux.HandleFunc("/v1beta/operations/op1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"operations/op1","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"` + server.URL + `/files/video.mp4"}}]}}}`))
	})
	mux.HandleFunc("/files/video.mp4", func(w http.ResponseWriter, r *http.Request) {
		if downloadStatus != http.StatusOK {
			w.WriteHeader(downloadStatus)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("video-bytes"))
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newOrchestrator(server *httptest.Server) *generation.Orchestrator {
	client := veo.NewClient(server.Client(), &veo.Config{BaseURL: server.URL + "/v1beta"}, nil)
	cfg := generation.DefaultConfig()
	cfg.PollInterval = time.Millisecond
	return generation.NewOrchestrator(client, blob.NewMemoryStore(), cfg, nil, nil)
}

func TestScenario_SuccessOnFirstPoll(t *testing.T) {
	server := veoServer(t, http.StatusOK)
	blobs := blob.NewMemoryStore()
	client := veo.NewClient(server.Client(), &veo.Config{BaseURL: server.URL + "/v1beta"}, nil)
	cfg := generation.DefaultConfig()
	cfg.PollInterval = time.Millisecond
	orch := generation.NewOrchestrator(client, blobs, cfg, nil, nil)

	c := newTestController(authedCapability(), orch, blobs)
	c.SelectImage(context.Background(), testImage)
	require.NoError(t, c.SetAspectRatio("16:9"))

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()

	v := c.View()
	assert.Equal(t, StatusSuccess, v.Status)
	assert.Empty(t, v.Error)
	require.NotNil(t, v.Result)
	assert.Equal(t, generation.DefaultPrompt, v.Result.Prompt)
	assert.Equal(t, "16:9", v.Result.AspectRatio)

	video, err := c.Video(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("video-bytes"), video.Data)
	assert.Equal(t, "video/mp4", video.MIMEType)
}

func TestScenario_DownloadNotFound(t *testing.T) {
	server := veoServer(t, http.StatusNotFound)
	c := newTestController(authedCapability(), newOrchestrator(server), blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)
	c.SetPrompt("waves crash")

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()

	v := c.View()
	assert.Equal(t, StatusError, v.Status)
	assert.Equal(t, "Failed to download video: Not Found", v.Error)
	assert.Equal(t, string(generation.KindNetwork), v.ErrorKind)
	assert.True(t, v.Authenticated)
	assert.Equal(t, "waves crash", v.Prompt)
	require.NotNil(t, v.Image)
	assert.Equal(t, "bride.png", v.Image.FileName)
	assert.Nil(t, v.Result)
	assert.True(t, v.CanGenerate)
}

func TestScenario_NoImage(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, *generation.Request, generation.PhaseFunc) (*generation.VideoResult, error) {
		t.Fatal("generator must not be invoked")
		return nil, nil
	}}
	c := newTestController(authedCapability(), gen, blob.NewMemoryStore())

	err := c.StartGeneration(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrValidation)

	v := c.View()
	assert.Equal(t, StatusIdle, v.Status)
	assert.Equal(t, MsgSelectImage, v.Error)
	assert.False(t, v.CanGenerate)
	assert.Equal(t, 0, gen.callCount())
}

func TestStartGeneration_AuthErrorClearsFlag(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, *generation.Request, generation.PhaseFunc) (*generation.VideoResult, error) {
		return nil, generation.NewError(generation.KindAuth, "Requested entity was not found.", nil)
	}}
	c := newTestController(authedCapability(), gen, blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)
	c.SetPrompt("keep me")

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()

	v := c.View()
	assert.False(t, v.Authenticated)
	assert.Equal(t, StatusError, v.Status)
	assert.Equal(t, MsgSessionExpired, v.Error)
	assert.Equal(t, "keep me", v.Prompt)
	assert.NotNil(t, v.Image)

	assert.ErrorIs(t, c.StartGeneration(context.Background()), ErrUnauthenticated)
}

func TestStartGeneration_AuthSignatureFromProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
	}))
	t.Cleanup(server.Close)

	c := newTestController(authedCapability(), newOrchestrator(server), blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()

	v := c.View()
	assert.False(t, v.Authenticated)
	assert.Equal(t, MsgSessionExpired, v.Error)
}

func TestStartGeneration_AccessTokenFailure(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, *generation.Request, generation.PhaseFunc) (*generation.VideoResult, error) {
		t.Fatal("generator must not be invoked")
		return nil, nil
	}}
	capability := authedCapability()
	capability.tokenErr = errors.New("no API key selected")
	c := newTestController(capability, gen, blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()

	v := c.View()
	assert.False(t, v.Authenticated)
	assert.Equal(t, StatusError, v.Status)
}

func TestStartGeneration_OtherFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"provider message", generation.NewError(generation.KindProvider, "quota exceeded", nil), "quota exceeded"},
		{"empty message", generation.NewError(generation.KindProvider, "", errors.New("")), MsgGenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{fn: func(context.Context, *generation.Request, generation.PhaseFunc) (*generation.VideoResult, error) {
				return nil, tt.err
			}}
			c := newTestController(authedCapability(), gen, blob.NewMemoryStore())
			c.SelectImage(context.Background(), testImage)

			require.NoError(t, c.StartGeneration(context.Background()))
			c.Wait()

			v := c.View()
			assert.Equal(t, StatusError, v.Status)
			assert.Equal(t, tt.expected, v.Error)
			assert.True(t, v.Authenticated)
		})
	}
}

func TestStartGeneration_PassesInputs(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, *generation.Request, generation.PhaseFunc) (*generation.VideoResult, error) {
		return &generation.VideoResult{Handle: "h"}, nil
	}}
	c := newTestController(authedCapability(), gen, blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)
	c.UseSamplePrompt()
	require.NoError(t, c.SetAspectRatio("9:16"))

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()

	require.Len(t, gen.reqs, 1)
	req := gen.reqs[0]
	assert.Same(t, testImage, req.Image)
	assert.Equal(t, SamplePrompt, req.Prompt)
	assert.Equal(t, generation.AspectPortrait, req.AspectRatio)
	assert.Equal(t, "key-1", req.AccessToken)
}

func TestStartGeneration_BusyAndPhases(t *testing.T) {
	release := make(chan struct{})
	reached := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error) {
		onPhase(generation.PhaseUploading)
		onPhase(generation.PhaseGenerating)
		onPhase(generation.PhasePolling)
		onPhase(generation.PhaseUploading)
		close(reached)
		<-release
		onPhase(generation.PhaseDownloading)
		return &generation.VideoResult{Handle: "h1", Prompt: req.Prompt}, nil
	}}
	c := newTestController(authedCapability(), gen, blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)

	require.NoError(t, c.StartGeneration(context.Background()))
	<-reached

	v := c.View()
	assert.Equal(t, StatusPolling, v.Status, "status must not regress")
	assert.True(t, v.Busy)
	assert.False(t, v.CanGenerate)
	assert.NotEmpty(t, v.OverlayMessage)
	assert.Equal(t, OverlayHint, v.OverlayHint)

	assert.ErrorIs(t, c.StartGeneration(context.Background()), ErrBusy)

	close(release)
	c.Wait()

	v = c.View()
	assert.Equal(t, StatusSuccess, v.Status)
	assert.Empty(t, v.OverlayMessage)
	assert.Equal(t, 1, gen.callCount())
}

func TestStartGeneration_RetryAfterError(t *testing.T) {
	fail := true
	gen := &fakeGenerator{fn: func(context.Context, *generation.Request, generation.PhaseFunc) (*generation.VideoResult, error) {
		if fail {
			return nil, generation.NewError(generation.KindNetwork, "Failed to download video: Bad Gateway", nil)
		}
		return &generation.VideoResult{Handle: "h"}, nil
	}}
	c := newTestController(authedCapability(), gen, blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()
	assert.Equal(t, StatusError, c.View().Status)

	fail = false
	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()

	v := c.View()
	assert.Equal(t, StatusSuccess, v.Status)
	assert.Empty(t, v.Error)
}

func TestReset(t *testing.T) {
	blobs := blob.NewMemoryStore()
	gen := &fakeGenerator{fn: func(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error) {
		handle, err := blobs.Put(ctx, []byte("v"), "video/mp4")
		if err != nil {
			return nil, err
		}
		return &generation.VideoResult{Handle: handle, Prompt: req.Prompt}, nil
	}}

	setups := map[string]func(c *Controller){
		"idle": func(c *Controller) {},
		"with inputs": func(c *Controller) {
			c.SelectImage(context.Background(), testImage)
			c.SetPrompt("p")
		},
		"error": func(c *Controller) {
			_ = c.StartGeneration(context.Background())
		},
		"success": func(c *Controller) {
			c.SelectImage(context.Background(), testImage)
			c.SetPrompt("p")
			require.NoError(t, c.StartGeneration(context.Background()))
			c.Wait()
			require.Equal(t, StatusSuccess, c.View().Status)
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			c := newTestController(authedCapability(), gen, blobs)
			setup(c)

			c.Reset(context.Background())

			v := c.View()
			assert.Equal(t, StatusIdle, v.Status)
			assert.Nil(t, v.Image)
			assert.Empty(t, v.Prompt)
			assert.Empty(t, v.Error)
			assert.Nil(t, v.Result)
			assert.False(t, v.Busy)
			assert.Equal(t, 0, blobs.Len())

			_, err := c.Video(context.Background())
			assert.ErrorIs(t, err, ErrNoResult)
		})
	}
}

func TestReset_CancelsInFlightAttempt(t *testing.T) {
	blobs := blob.NewMemoryStore()
	started := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error) {
		onPhase(generation.PhasePolling)
		close(started)
		<-ctx.Done()
		onPhase(generation.PhaseDownloading)
		// A late result from a cancelled attempt must be dropped.
		handle, _ := blobs.Put(context.Background(), []byte("late"), "video/mp4")
		return &generation.VideoResult{Handle: handle}, nil
	}}
	c := newTestController(authedCapability(), gen, blobs)
	c.SelectImage(context.Background(), testImage)

	require.NoError(t, c.StartGeneration(context.Background()))
	<-started

	c.Reset(context.Background())
	c.Wait()

	v := c.View()
	assert.Equal(t, StatusIdle, v.Status)
	assert.Nil(t, v.Result)
	assert.Empty(t, v.Error)
	assert.Equal(t, 0, blobs.Len())
}

func TestSelectImage_ClearsResultAndError(t *testing.T) {
	blobs := blob.NewMemoryStore()
	gen := &fakeGenerator{fn: func(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error) {
		handle, err := blobs.Put(ctx, []byte("v"), "video/mp4")
		return &generation.VideoResult{Handle: handle}, err
	}}
	c := newTestController(authedCapability(), gen, blobs)

	_ = c.StartGeneration(context.Background())
	assert.Equal(t, MsgSelectImage, c.View().Error)

	c.SelectImage(context.Background(), testImage)
	assert.Empty(t, c.View().Error)

	require.NoError(t, c.StartGeneration(context.Background()))
	c.Wait()
	require.NotNil(t, c.View().Result)

	c.SelectImage(context.Background(), &generation.ImageAsset{Data: []byte("x"), MIMEType: "image/jpeg", FileName: "b.jpg"})
	v := c.View()
	assert.Nil(t, v.Result)
	assert.Equal(t, StatusSuccess, v.Status, "status is left alone")
	assert.Equal(t, "b.jpg", v.Image.FileName)
	assert.Equal(t, 0, blobs.Len())
}

func TestSetAspectRatio(t *testing.T) {
	c := newTestController(authedCapability(), &fakeGenerator{}, blob.NewMemoryStore())
	assert.Equal(t, "16:9", c.View().AspectRatio)

	require.NoError(t, c.SetAspectRatio("9:16"))
	assert.Equal(t, "9:16", c.View().AspectRatio)

	err := c.SetAspectRatio("1:1")
	assert.ErrorIs(t, err, generation.ErrValidation)
	assert.Equal(t, "9:16", c.View().AspectRatio)
}

func TestAuthFlow(t *testing.T) {
	t.Run("check auth", func(t *testing.T) {
		c := newTestController(&fakeCapability{selected: true}, &fakeGenerator{}, blob.NewMemoryStore())
		assert.True(t, c.View().Authenticated)

		c = newTestController(&fakeCapability{selected: false}, &fakeGenerator{}, blob.NewMemoryStore())
		assert.False(t, c.View().Authenticated)
	})

	t.Run("check auth failure leaves unauthenticated", func(t *testing.T) {
		c := newTestController(&fakeCapability{selected: true, checkErr: errors.New("host gone")}, &fakeGenerator{}, blob.NewMemoryStore())
		assert.False(t, c.View().Authenticated)
	})

	t.Run("connect is optimistic", func(t *testing.T) {
		capability := &fakeCapability{}
		c := newTestController(capability, &fakeGenerator{}, blob.NewMemoryStore())

		require.NoError(t, c.Connect(context.Background()))
		assert.True(t, c.View().Authenticated)
		assert.Equal(t, 1, capability.opened)
	})

	t.Run("connect failure", func(t *testing.T) {
		c := newTestController(&fakeCapability{openErr: errors.New("closed")}, &fakeGenerator{}, blob.NewMemoryStore())

		require.Error(t, c.Connect(context.Background()))
		v := c.View()
		assert.False(t, v.Authenticated)
		assert.Equal(t, MsgConnectFailed, v.Error)
	})

	t.Run("switch credential", func(t *testing.T) {
		c := newTestController(authedCapability(), &fakeGenerator{}, blob.NewMemoryStore())
		c.SwitchCredential()
		assert.False(t, c.View().Authenticated)

		require.NoError(t, c.Connect(context.Background()))
		assert.True(t, c.View().Authenticated)
	})
}

func TestOverlayMessageRotation(t *testing.T) {
	release := make(chan struct{})
	reached := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, req *generation.Request, onPhase generation.PhaseFunc) (*generation.VideoResult, error) {
		onPhase(generation.PhaseUploading)
		close(reached)
		<-release
		return nil, generation.NewError(generation.KindCancelled, "generation cancelled", nil)
	}}
	c := newTestController(authedCapability(), gen, blob.NewMemoryStore())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.SelectImage(context.Background(), testImage)

	require.NoError(t, c.StartGeneration(context.Background()))
	<-reached
	assert.Equal(t, OverlayMessages[0], c.View().OverlayMessage)

	c.advance(c.attempt, generation.PhaseGenerating)
	assert.Equal(t, OverlayMessages[0], c.View().OverlayMessage)

	now = now.Add(4 * time.Second)
	assert.Equal(t, OverlayMessages[1], c.View().OverlayMessage)

	now = now.Add(4 * time.Second * time.Duration(len(OverlayMessages)))
	assert.Equal(t, OverlayMessages[1], c.View().OverlayMessage)

	close(release)
	c.Wait()
}

func TestClose_ReleasesCredentials(t *testing.T) {
	capability := authedCapability()
	c := newTestController(capability, &fakeGenerator{}, blob.NewMemoryStore())
	c.SelectImage(context.Background(), testImage)

	c.Close(context.Background())

	assert.Equal(t, 1, capability.released)
	assert.Equal(t, StatusIdle, c.View().Status)
	assert.Nil(t, c.View().Image)
}

func TestOfferCredential(t *testing.T) {
	t.Run("capability without key entry", func(t *testing.T) {
		c := newTestController(authedCapability(), &fakeGenerator{}, blob.NewMemoryStore())
		assert.ErrorIs(t, c.OfferCredential(context.Background(), "key"), ErrKeyEntryUnsupported)
	})

	t.Run("staged key is selected on connect", func(t *testing.T) {
		store := credential.NewMemoryKeyStore(time.Hour)
		c := newTestController(credential.NewSessionCapability(store, "s1"), &fakeGenerator{}, blob.NewMemoryStore())
		ctx := context.Background()
		require.False(t, c.View().Authenticated)

		require.NoError(t, c.OfferCredential(ctx, "user-key"))
		require.NoError(t, c.Connect(ctx))
		assert.True(t, c.View().Authenticated)

		key, err := store.Selected(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "user-key", key)
	})
}
