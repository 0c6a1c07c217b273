package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrb/internal/archive"
	"hrb/internal/config"
	"hrb/internal/crypto"
	"hrb/internal/lock"
	"hrb/internal/remote"
)

type fakeBackend struct {
	objects map[string][]byte
	uploads []string

	// failUploads fails the first N Upload calls with a transport error.
	failUploads int
	// headDelta skews the size Head reports, simulating partial transfers.
	headDelta int64

	uploadCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: map[string][]byte{}}
}

func (f *fakeBackend) Upload(_ context.Context, localPath, name string) error {
	f.uploadCalls++
	if f.uploadCalls <= f.failUploads {
		return fmt.Errorf("transport error on call %d", f.uploadCalls)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.objects[name] = data
	f.uploads = append(f.uploads, name)
	return nil
}

func (f *fakeBackend) Download(_ context.Context, name, localPath string) error {
	data, ok := f.objects[name]
	if !ok {
		return fmt.Errorf("no such object: %s", name)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (f *fakeBackend) Head(_ context.Context, name string) (*remote.ObjectInfo, error) {
	data, ok := f.objects[name]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", name)
	}
	return &remote.ObjectInfo{Name: name, Size: int64(len(data)) + f.headDelta}, nil
}

func (f *fakeBackend) List(_ context.Context, prefix string) ([]remote.ObjectInfo, error) {
	var infos []remote.ObjectInfo
	for name, data := range f.objects {
		if strings.HasPrefix(name, prefix) {
			infos = append(infos, remote.ObjectInfo{Name: name, Size: int64(len(data))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (f *fakeBackend) Delete(_ context.Context, name string) error {
	if _, ok := f.objects[name]; !ok {
		return fmt.Errorf("no such object: %s", name)
	}
	delete(f.objects, name)
	return nil
}

func (f *fakeBackend) VerifyCredentials(context.Context) error { return nil }

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Send(_ context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func testConfig(t *testing.T, sources []string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Sources:    sources,
		ScratchDir: filepath.Join(dir, "scratch"),
		LogFile:    filepath.Join(dir, "hrb.log"),
		LockFile:   filepath.Join(dir, "hrb.lock"),
		Passphrase: "test passphrase",
		Retention:  1,
		S3:         config.S3Config{Bucket: "b", Region: "us-east-1"},
	}
}

func shortRetryDelay(t *testing.T) {
	t.Helper()
	old := uploadRetryDelay
	uploadRetryDelay = time.Millisecond
	t.Cleanup(func() { uploadRetryDelay = old })
}

func TestRunFullPipeline(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "nginx")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "nginx.conf"), []byte("server {}\n"), 0o644))

	cfg := testConfig(t, []string{srcDir, "/does/not/exist"})
	fake := newFakeBackend()
	notifier := &fakeNotifier{}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local)

	require.NoError(t, run(context.Background(), cfg, "host1", fake, notifier, now))

	// Artifact name is part of the interoperability contract.
	encName := "backup-host1-20250101-120000.tar.gz.enc"
	sumName := encName + ".sha256"
	require.Equal(t, []string{encName, sumName}, fake.uploads,
		"companion must never precede the artifact")

	// Companion holds the artifact's SHA-256.
	artifact := fake.objects[encName]
	sum := strings.Fields(string(fake.objects[sumName]))
	require.Len(t, sum, 1)
	assert.Regexp(t, "^[0-9a-f]{64}$", sum[0])

	// The uploaded artifact round-trips: decrypt, extract, compare.
	encPath := filepath.Join(t.TempDir(), encName)
	require.NoError(t, os.WriteFile(encPath, artifact, 0o600))
	var plain bytes.Buffer
	require.NoError(t, crypto.Decrypt(encPath, &plain, cfg.Passphrase))
	destDir := t.TempDir()
	require.NoError(t, archive.Extract(context.Background(), &plain, destDir))
	got, err := os.ReadFile(filepath.Join(destDir, "nginx", "nginx.conf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("server {}\n"), got)

	// Scratch dir is cleaned, lock is released.
	entries, err := os.ReadDir(cfg.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(cfg.LockFile)
	assert.True(t, os.IsNotExist(err))

	// Success notification names the artifact.
	require.NotEmpty(t, notifier.messages)
	last := notifier.messages[len(notifier.messages)-1]
	assert.Contains(t, last, "completed")
	assert.Contains(t, last, encName)
}

func TestRunWithZeroExistingSources(t *testing.T) {
	cfg := testConfig(t, []string{"/nope/a", "/nope/b"})
	fake := newFakeBackend()
	notifier := &fakeNotifier{}

	err := run(context.Background(), cfg, "host1", fake, notifier, time.Now())
	require.NoError(t, err, "missing sources must not fail the run")

	assert.Len(t, fake.uploads, 2, "near-empty artifact and companion still uploaded")
}

func TestRunPrunesOldSnapshots(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f"), []byte("x"), 0o644))

	cfg := testConfig(t, []string{srcDir})
	cfg.Retention = 1
	fake := newFakeBackend()

	oldName := "backup-host1-20200101-000000.tar.gz.enc"
	fake.objects[oldName] = []byte("old artifact")
	fake.objects[oldName+".sha256"] = []byte("0000\n")

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local)
	require.NoError(t, run(context.Background(), cfg, "host1", fake, &fakeNotifier{}, now))

	_, oldThere := fake.objects[oldName]
	assert.False(t, oldThere, "snapshot beyond retention must be pruned")
	_, companionThere := fake.objects[oldName+".sha256"]
	assert.False(t, companionThere)
	_, newThere := fake.objects["backup-host1-20250101-120000.tar.gz.enc"]
	assert.True(t, newThere)
}

func TestRunFailsWhenLockHeld(t *testing.T) {
	cfg := testConfig(t, []string{t.TempDir()})

	release, err := lock.Acquire(cfg.LockFile)
	require.NoError(t, err)
	defer release()

	notifier := &fakeNotifier{}
	err = run(context.Background(), cfg, "host1", newFakeBackend(), notifier, time.Now())
	require.ErrorIs(t, err, lock.ErrAlreadyRunning)

	require.NotEmpty(t, notifier.messages)
	assert.Contains(t, notifier.messages[len(notifier.messages)-1], "failed")

	// The foreign lock must survive the failed run.
	_, err = os.Stat(cfg.LockFile)
	assert.NoError(t, err)
}

func TestRunUploadExhaustionFailsAndCleansUp(t *testing.T) {
	shortRetryDelay(t)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f"), []byte("x"), 0o644))

	cfg := testConfig(t, []string{srcDir})
	fake := newFakeBackend()
	fake.headDelta = 1 // every transfer looks truncated
	notifier := &fakeNotifier{}

	err := run(context.Background(), cfg, "host1", fake, notifier, time.Now())
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, maxUploadAttempts, fake.uploadCalls)

	entries, readErr := os.ReadDir(cfg.ScratchDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "scratch dir must be cleaned on failure too")
	_, statErr := os.Stat(cfg.LockFile)
	assert.True(t, os.IsNotExist(statErr), "lock must be released on failure")

	require.NotEmpty(t, notifier.messages)
	assert.Contains(t, notifier.messages[len(notifier.messages)-1], "failed")
}

func TestUploadWithRetrySucceedsAfterTransportErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	fake := newFakeBackend()
	fake.failUploads = 1

	size, err := uploadWithRetry(context.Background(), fake, path, "artifact", 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), size)
	assert.Equal(t, 2, fake.uploadCalls, "no attempts after a size-verified success")
}

func TestUploadWithRetryPermanentMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	fake := newFakeBackend()
	fake.headDelta = 1

	_, err := uploadWithRetry(context.Background(), fake, path, "artifact", 3, time.Millisecond)
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, 3, fake.uploadCalls, "exactly max attempts, no more")
}
