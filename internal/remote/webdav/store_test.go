package webdav_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/remote/webdav"
	"github.com/stacklok/promptsync/internal/syncerr"
)

var rootCounter int

var _ = Describe("WebDAV Store", func() {
	var (
		ctx    context.Context
		store  *webdav.Store
		layout remote.Layout
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = webdav.New(webdav.Config{
			ServerURL: server.URL,
			Username:  testUser,
			Password:  testPassword,
			Timeout:   5 * time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
		rootCounter++
		layout = remote.NewLayout(fmt.Sprintf("sync-%d-%d", GinkgoParallelProcess(), rootCounter))
	})

	Describe("configuration", func() {
		It("rejects a missing server URL", func() {
			_, err := webdav.New(webdav.Config{})
			Expect(syncerr.CodeOf(err)).To(Equal(syncerr.CodeConfiguration))
		})

		It("rejects a URL without an http scheme", func() {
			_, err := webdav.New(webdav.Config{ServerURL: "ftp://example.com"})
			Expect(syncerr.CodeOf(err)).To(Equal(syncerr.CodeConfiguration))
		})
	})

	Describe("file operations", func() {
		It("connects with valid credentials", func() {
			Expect(store.Connect(ctx)).To(Succeed())
		})

		It("identifies itself with the configured user agent", func() {
			named, err := webdav.New(webdav.Config{
				ServerURL: server.URL,
				Username:  testUser,
				Password:  testPassword,
				UserAgent: "promptsync/1.4.0 (linux/amd64)",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(named.Connect(ctx)).To(Succeed())
			Expect(lastUserAgent.Load()).To(Equal("promptsync/1.4.0 (linux/amd64)"))
		})

		It("writes, reads and deletes a file", func() {
			Expect(remote.CheckAvailable(ctx, store, layout)).To(Succeed())

			exists, err := store.Exists(ctx, layout.Snapshot())
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())

			Expect(store.Write(ctx, layout.Snapshot(), []byte(`{"items":[]}`))).To(Succeed())

			exists, err = store.Exists(ctx, layout.Snapshot())
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			data, err := store.Read(ctx, layout.Snapshot())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(`{"items":[]}`))

			Expect(store.Write(ctx, layout.Snapshot(), []byte(`{}`))).To(Succeed())
			data, err = store.Read(ctx, layout.Snapshot())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(`{}`))

			Expect(store.Delete(ctx, layout.Snapshot())).To(Succeed())
			exists, err = store.Exists(ctx, layout.Snapshot())
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("creates nested collections and is idempotent", func() {
			Expect(store.MkdirAll(ctx, layout.LockDir())).To(Succeed())
			Expect(store.MkdirAll(ctx, layout.LockDir())).To(Succeed())

			exists, err := store.Exists(ctx, layout.LockDir())
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("tolerates deleting a missing file", func() {
			Expect(store.Delete(ctx, layout.Lock())).To(Succeed())
		})
	})

	Describe("error classification", func() {
		It("reports a missing file as not found", func() {
			_, err := store.Read(ctx, layout.Snapshot())
			Expect(err).To(HaveOccurred())
			Expect(remote.IsNotFound(err)).To(BeTrue())

			data, err := remote.ReadIfExists(ctx, store, layout.Snapshot())
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(BeNil())
		})

		It("reports bad credentials as permission denied", func() {
			bad, err := webdav.New(webdav.Config{ServerURL: server.URL, Username: testUser, Password: "wrong"})
			Expect(err).NotTo(HaveOccurred())

			_, err = bad.Read(ctx, layout.Snapshot())
			Expect(err).To(HaveOccurred())
			Expect(syncerr.CodeOf(err)).To(Equal(syncerr.CodePermission))
			Expect(syncerr.IsRetryable(err)).To(BeFalse())
		})

		It("reports a forbidden path as permission denied", func() {
			_, err := store.Read(ctx, "forbidden")
			Expect(syncerr.CodeOf(err)).To(Equal(syncerr.CodePermission))
		})

		It("reports an unreachable server as a network error", func() {
			down, err := webdav.New(webdav.Config{ServerURL: "http://127.0.0.1:1", Timeout: time.Second})
			Expect(err).NotTo(HaveOccurred())

			_, err = down.Exists(ctx, layout.Snapshot())
			Expect(err).To(HaveOccurred())
			Expect(syncerr.CodeOf(err)).To(Equal(syncerr.CodeNetwork))
			Expect(syncerr.IsRetryable(err)).To(BeTrue())
		})

		It("does not call the server once the context is done", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := store.Read(cancelled, layout.Snapshot())
			Expect(err).To(MatchError(context.Canceled))
		})
	})
})
