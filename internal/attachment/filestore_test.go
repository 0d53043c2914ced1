package attachment_test

import (
	"context"
	"strings"
	"time"

	"github.com/frahmantamala/rental-management/internal/attachment"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"
)

var _ = Describe("FileStore", func() {
	var (
		fs    afero.Fs
		store *attachment.FileStore
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = afero.NewMemMapFs()
		store = attachment.NewFileStore(fs, "/data/uploads", "https://files.example.com/uploads/", time.Second)
	})

	It("writes the upload under the folder and returns its public URL", func() {
		obj, err := store.Upload(ctx, attachment.Upload{
			Filename: "ID card (front).jpg",
			Body:     strings.NewReader("jpeg-bytes"),
		}, "customers")
		Expect(err).NotTo(HaveOccurred())
		Expect(obj.Pathname).To(HavePrefix("customers/"))
		Expect(obj.Pathname).To(HaveSuffix("-ID_card_front_.jpg"))
		Expect(obj.URL).To(Equal("https://files.example.com/uploads/" + obj.Pathname))

		content, err := afero.ReadFile(fs, "/data/uploads/"+obj.Pathname)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal("jpeg-bytes"))
		Expect(store.Exists(obj.URL)).To(BeTrue())
	})

	It("deletes by URL or by pathname", func() {
		first, err := store.Upload(ctx, attachment.Upload{Filename: "a.pdf", Body: strings.NewReader("a")}, "payments")
		Expect(err).NotTo(HaveOccurred())
		second, err := store.Upload(ctx, attachment.Upload{Filename: "b.pdf", Body: strings.NewReader("b")}, "payments")
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Delete(ctx, first.URL)).To(Succeed())
		Expect(store.Delete(ctx, second.Pathname)).To(Succeed())
		Expect(store.Exists(first.URL)).To(BeFalse())
		Expect(store.Exists(second.Pathname)).To(BeFalse())
	})

	It("treats deleting a missing blob as done", func() {
		Expect(store.Delete(ctx, "payments/missing.pdf")).To(Succeed())
	})

	It("keeps traversal attempts inside the base directory", func() {
		Expect(afero.WriteFile(fs, "/data/secret.txt", []byte("x"), 0o644)).To(Succeed())

		Expect(store.Delete(ctx, "../secret.txt")).To(Succeed())
		exists, err := afero.Exists(fs, "/data/secret.txt")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())
	})

	It("strips a relative public prefix only at a segment boundary", func() {
		local := attachment.NewFileStore(fs, "/data", "/uploads", time.Second)
		for _, name := range []string{"/data/x.png", "/data/-archive/x.png", "/data/uploads-archive/x.png"} {
			Expect(afero.WriteFile(fs, name, []byte("x"), 0o644)).To(Succeed())
		}

		Expect(local.Delete(ctx, "/uploads-archive/x.png")).To(Succeed())
		Expect(local.Delete(ctx, "/uploads/x.png")).To(Succeed())

		Expect(afero.Exists(fs, "/data/uploads-archive/x.png")).To(BeFalse())
		Expect(afero.Exists(fs, "/data/x.png")).To(BeFalse())
		Expect(afero.Exists(fs, "/data/-archive/x.png")).To(BeTrue())
	})

	It("rejects uploads without content", func() {
		_, err := store.Upload(ctx, attachment.Upload{Filename: "empty.txt"}, "costs")
		Expect(err).To(HaveOccurred())
	})

	It("reports whether the base directory is reachable", func() {
		Expect(store.Ping(ctx)).NotTo(Succeed())

		Expect(fs.MkdirAll("/data/uploads", 0o755)).To(Succeed())
		Expect(store.Ping(ctx)).To(Succeed())
	})
})
