package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frahmantamala/rental-management/internal"
	"github.com/frahmantamala/rental-management/internal/attachment"
	"github.com/frahmantamala/rental-management/internal/auth"
	"github.com/frahmantamala/rental-management/internal/core/changeset"
	"github.com/frahmantamala/rental-management/internal/core/datamodel/user"
	"github.com/frahmantamala/rental-management/internal/core/events"
	"github.com/frahmantamala/rental-management/internal/records"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestApproval(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Approval Suite")
}

type fakeRepository struct {
	mu       sync.Mutex
	requests map[uuid.UUID]Request
	users    map[uuid.UUID]*user.User
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{requests: map[uuid.UUID]Request{}, users: map[uuid.UUID]*user.User{}}
}

func (f *fakeRepository) Create(_ context.Context, req *Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = time.Now()
	f.requests[req.ID] = *req
	return nil
}

func (f *fakeRepository) FindByID(_ context.Context, id uuid.UUID) (*Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, internal.ErrApprovalNotFound
	}
	return &req, nil
}

func (f *fakeRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req.Requester = f.users[req.RequestedBy]
	if req.ReviewedBy != nil {
		req.Reviewer = f.users[*req.ReviewedBy]
	}
	return req, nil
}

func (f *fakeRepository) TransitionFromPending(_ context.Context, id uuid.UUID, status string, reviewerID uuid.UUID, note string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != StatusPending {
		return false, nil
	}
	req.Status = status
	req.ReviewedBy = &reviewerID
	req.ReviewNote = note
	req.ReviewedAt = &at
	f.requests[id] = req
	return true, nil
}

func (f *fakeRepository) LinkResource(_ context.Context, id, resourceID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return internal.ErrApprovalNotFound
	}
	req.ResourceID = &resourceID
	f.requests[id] = req
	return nil
}

func (f *fakeRepository) list(match func(Request) bool, page Page) ([]Request, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, req := range f.requests {
		if match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if page.Offset < len(out) {
		out = out[page.Offset:]
	} else {
		out = nil
	}
	if len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, total, nil
}

func (f *fakeRepository) ListByStatus(_ context.Context, status string, page Page) ([]Request, int64, error) {
	return f.list(func(r Request) bool { return r.Status == status }, page)
}

func (f *fakeRepository) ListByRequester(_ context.Context, requesterID uuid.UUID, page Page) ([]Request, int64, error) {
	return f.list(func(r Request) bool { return r.RequestedBy == requesterID }, page)
}

func (f *fakeRepository) CountByStatus(_ context.Context, status string) (int64, error) {
	_, total, err := f.list(func(r Request) bool { return r.Status == status }, Page{Limit: 1})
	return total, err
}

func (f *fakeRepository) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[id]; !ok {
		return internal.ErrApprovalNotFound
	}
	delete(f.requests, id)
	return nil
}

func (f *fakeRepository) snapshot() map[uuid.UUID]Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[uuid.UUID]Request, len(f.requests))
	for k, v := range f.requests {
		copied[k] = v
	}
	return copied
}

func (f *fakeRepository) restore(state map[uuid.UUID]Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = state
}

// fakeTx serializes transactions and rolls the repository back on error.
type fakeTx struct {
	mu   sync.Mutex
	repo *fakeRepository
}

func (t *fakeTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(state)
		return err
	}
	return nil
}

type fakeRecords struct {
	records map[uuid.UUID]changeset.Record
}

func (f *fakeRecords) FindByID(_ context.Context, _ records.ResourceType, id uuid.UUID) (changeset.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, internal.ErrResourceNotFound
	}
	return rec, nil
}

type fakeApplier struct {
	mu       sync.Mutex
	applied  []records.Mutation
	settled  int
	err      error
	warnings []string
	created  changeset.Record
}

func (f *fakeApplier) Apply(_ context.Context, m records.Mutation) (records.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return records.Outcome{}, f.err
	}
	f.applied = append(f.applied, m)
	if m.Action == records.ActionCreate && f.created != nil {
		return records.Outcome{Record: f.created}, nil
	}
	return records.Outcome{Record: changeset.Record{"applied": true}}, nil
}

func (f *fakeApplier) Settle(context.Context, records.Outcome) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled++
	return f.warnings
}

type memoryBlobStore struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
}

func (m *memoryBlobStore) Upload(_ context.Context, file attachment.Upload, folder string) (attachment.StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pathname := fmt.Sprintf("%s/%d-%s", folder, len(m.uploaded), file.Filename)
	m.uploaded = append(m.uploaded, pathname)
	return attachment.StoredObject{URL: "https://blob.test/" + pathname, Pathname: pathname}, nil
}

func (m *memoryBlobStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType())
	return nil
}

func decodeJSON(raw []byte) map[string]interface{} {
	var out map[string]interface{}
	Expect(json.Unmarshal(raw, &out)).To(Succeed())
	return out
}

var _ = Describe("Service", func() {
	var (
		ctx        context.Context
		repo       *fakeRepository
		store      *fakeRecords
		applier    *fakeApplier
		blobs      *memoryBlobStore
		publisher  *recordingPublisher
		service    *Service
		employee   *auth.Actor
		manager    *auth.Actor
		admin      *auth.Actor
		customerID uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newFakeRepository()
		customerID = uuid.New()
		store = &fakeRecords{records: map[uuid.UUID]changeset.Record{
			customerID: {
				"id":    customerID.String(),
				"name":  "Rina",
				"phone": "0812",
				"attachments": []interface{}{
					map[string]interface{}{"name": "ktp.jpg", "url": "https://blob.test/customers/ktp.jpg", "size": 10, "type": "image"},
				},
			},
		}}
		applier = &fakeApplier{}
		blobs = &memoryBlobStore{}
		publisher = &recordingPublisher{}
		service = NewService(repo, &fakeTx{repo: repo}, store, applier,
			attachment.NewReconciler(blobs, slog.Default()), publisher, slog.Default())

		employee = &auth.Actor{ID: uuid.NewString(), Name: "Eko", Email: "eko@example.com", Role: auth.RoleEmployee}
		manager = &auth.Actor{ID: uuid.NewString(), Role: auth.RoleManager}
		admin = &auth.Actor{ID: uuid.NewString(), Role: auth.RoleAdmin}
		repo.users[uuid.MustParse(employee.ID)] = &user.User{Name: employee.Name, Email: employee.Email}
	})

	submitEdit := func(proposed changeset.Record) *Request {
		req, err := service.Submit(ctx, employee, SubmitInput{
			Action:     records.ActionEdit,
			Resource:   records.ResourceCustomer,
			ResourceID: &customerID,
			Proposed:   proposed,
			Reason:     "typo",
		})
		Expect(err).NotTo(HaveOccurred())
		return req
	}

	Describe("Submit", func() {
		It("requires an actor", func() {
			_, err := service.Submit(ctx, nil, SubmitInput{Action: records.ActionCreate, Resource: records.ResourceCustomer})
			Expect(err).To(Equal(internal.ErrUnauthorizedActor))
		})

		It("rejects an unknown action or resource", func() {
			_, err := service.Submit(ctx, employee, SubmitInput{Action: "archive", Resource: records.ResourceCustomer})
			Expect(internal.HasCode(err, internal.ErrCodeInvalidAction)).To(BeTrue())

			_, err = service.Submit(ctx, employee, SubmitInput{Action: records.ActionCreate, Resource: "invoice"})
			Expect(internal.HasCode(err, internal.ErrCodeInvalidResource)).To(BeTrue())
		})

		It("requires a resource id for edit and delete", func() {
			_, err := service.Submit(ctx, employee, SubmitInput{Action: records.ActionDelete, Resource: records.ResourceCustomer})
			Expect(internal.HasCode(err, internal.ErrCodeMissingResource)).To(BeTrue())
		})

		It("fails when the target record does not exist", func() {
			missing := uuid.New()
			_, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionEdit, Resource: records.ResourceCustomer, ResourceID: &missing,
				Proposed: changeset.Record{"name": "X"},
			})
			Expect(err).To(Equal(internal.ErrResourceNotFound))
		})

		It("rejects an edit that changes nothing", func() {
			_, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionEdit, Resource: records.ResourceCustomer, ResourceID: &customerID,
				Proposed: changeset.Record{"name": "Rina", "phone": "0812"},
			})
			Expect(err).To(Equal(internal.ErrNoChangesDetected))
			Expect(repo.requests).To(BeEmpty())
		})

		It("stores only the changed fields and resolves the requester", func() {
			req := submitEdit(changeset.Record{"name": "Rina", "phone": "0813"})

			Expect(req.Status).To(Equal(StatusPending))
			Expect(req.Requester).NotTo(BeNil())
			Expect(req.Requester.Name).To(Equal("Eko"))
			Expect(decodeJSON(req.NewData)).To(Equal(map[string]interface{}{"phone": "0813"}))
			Expect(decodeJSON(req.OriginalData)).To(HaveKeyWithValue("name", "Rina"))
			Expect(publisher.types).To(ConsistOf(events.EventTypeApprovalSubmitted))
		})

		It("stages new files without deleting the dropped ones", func() {
			req, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionEdit, Resource: records.ResourceCustomer, ResourceID: &customerID,
				KeepAttachments: []attachment.Attachment{},
				Uploads:         []attachment.Upload{{Filename: "contract.pdf", Body: strings.NewReader("pdf")}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(blobs.uploaded).To(HaveLen(1))
			Expect(blobs.deleted).To(BeEmpty())

			list, err := attachment.Decode(decodeJSON(req.NewData)["attachments"])
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Name).To(Equal("contract.pdf"))
		})

		It("ignores an attachment list that references the same blobs", func() {
			current, _ := attachment.Decode(store.records[customerID]["attachments"])
			_, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionEdit, Resource: records.ResourceCustomer, ResourceID: &customerID,
				KeepAttachments: current,
			})
			Expect(err).To(Equal(internal.ErrNoChangesDetected))
		})

		It("stores a filtered create payload", func() {
			req, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionCreate, Resource: records.ResourceCustomer,
				Proposed: changeset.Record{"name": "Andi", "id": "forged", "created_at": "2020-01-01"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(decodeJSON(req.NewData)).To(Equal(map[string]interface{}{"name": "Andi"}))
			Expect(req.ResourceID).To(BeNil())
		})

		It("validates a create payload", func() {
			_, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionCreate, Resource: records.ResourceCustomer,
				Proposed: changeset.Record{"email": "x@example.com"},
			})
			Expect(internal.HasCode(err, internal.ErrCodeValidationFailed)).To(BeTrue())
		})

		It("stores a delete with no new data", func() {
			req, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionDelete, Resource: records.ResourceCustomer, ResourceID: &customerID,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(req.NewData).To(BeEmpty())
			Expect(req.OriginalData).NotTo(BeEmpty())
		})
	})

	Describe("Resolve", func() {
		var pending *Request

		BeforeEach(func() {
			pending = submitEdit(changeset.Record{"phone": "0899"})
		})

		It("requires a reviewer with review authority", func() {
			_, err := service.Resolve(ctx, pending.ID, DecisionApprove, nil, "")
			Expect(err).To(Equal(internal.ErrUnauthorizedActor))

			_, err = service.Resolve(ctx, pending.ID, DecisionApprove, employee, "")
			Expect(err).To(Equal(internal.ErrForbidden))
		})

		It("rejects an unknown decision", func() {
			_, err := service.Resolve(ctx, pending.ID, "maybe", manager, "")
			Expect(internal.HasCode(err, internal.ErrCodeInvalidDecision)).To(BeTrue())
		})

		It("reports an unknown request", func() {
			_, err := service.Resolve(ctx, uuid.New(), DecisionApprove, manager, "")
			Expect(err).To(Equal(internal.ErrApprovalNotFound))
		})

		It("applies the stored payload on approval", func() {
			applier.warnings = []string{"payment reconciliation failed for reservation x"}

			resolution, err := service.Resolve(ctx, pending.ID, DecisionApprove, manager, "ok")
			Expect(err).NotTo(HaveOccurred())
			Expect(resolution.Request.Status).To(Equal(StatusApproved))
			Expect(resolution.Request.ReviewNote).To(Equal("ok"))
			Expect(resolution.Warnings).To(HaveLen(1))

			Expect(applier.applied).To(HaveLen(1))
			m := applier.applied[0]
			Expect(m.Action).To(Equal(records.ActionEdit))
			Expect(m.Resource).To(Equal(records.ResourceCustomer))
			Expect(*m.ResourceID).To(Equal(customerID))
			Expect(m.Staged).To(BeTrue())
			Expect(m.Data).To(HaveKeyWithValue("phone", "0899"))
			Expect(applier.settled).To(Equal(1))
			Expect(publisher.types).To(ContainElement(events.EventTypeApprovalApproved))
		})

		It("links an approved create to the record it produced", func() {
			created := uuid.New()
			applier.created = changeset.Record{"id": created.String(), "name": "Andi"}

			req, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionCreate, Resource: records.ResourceCustomer,
				Proposed: changeset.Record{"name": "Andi"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(req.ResourceID).To(BeNil())

			resolution, err := service.Resolve(ctx, req.ID, DecisionApprove, manager, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resolution.Request.ResourceID).NotTo(BeNil())
			Expect(*resolution.Request.ResourceID).To(Equal(created))
		})

		It("leaves a rejected create unlinked", func() {
			req, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionCreate, Resource: records.ResourceCustomer,
				Proposed: changeset.Record{"name": "Andi"},
			})
			Expect(err).NotTo(HaveOccurred())

			resolution, err := service.Resolve(ctx, req.ID, DecisionReject, manager, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(resolution.Request.ResourceID).To(BeNil())
		})

		It("keeps the request pending when applying fails", func() {
			applier.err = internal.ErrResourceNotFound

			_, err := service.Resolve(ctx, pending.ID, DecisionApprove, admin, "")
			Expect(err).To(Equal(internal.ErrResourceNotFound))

			stored, err := repo.FindByID(ctx, pending.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(StatusPending))
			Expect(stored.ReviewedBy).To(BeNil())
			Expect(applier.settled).To(BeZero())
		})

		It("never touches the record on rejection", func() {
			resolution, err := service.Resolve(ctx, pending.ID, DecisionReject, manager, "no")
			Expect(err).NotTo(HaveOccurred())
			Expect(resolution.Request.Status).To(Equal(StatusRejected))
			Expect(applier.applied).To(BeEmpty())
			Expect(publisher.types).To(ContainElement(events.EventTypeApprovalRejected))
		})

		It("refuses a second review", func() {
			_, err := service.Resolve(ctx, pending.ID, DecisionApprove, manager, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Resolve(ctx, pending.ID, DecisionReject, admin, "")
			Expect(err).To(Equal(internal.ErrAlreadyApproved))

			other := submitEdit(changeset.Record{"phone": "0700"})
			_, err = service.Resolve(ctx, other.ID, DecisionReject, manager, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.Resolve(ctx, other.ID, DecisionApprove, manager, "")
			Expect(err).To(Equal(internal.ErrAlreadyRejected))
		})

		It("lets exactly one of many concurrent reviews win", func() {
			const reviewers = 8
			var wins atomic.Int32
			var wg sync.WaitGroup
			errs := make(chan error, reviewers)

			for i := 0; i < reviewers; i++ {
				decision := DecisionApprove
				if i%2 == 1 {
					decision = DecisionReject
				}
				wg.Add(1)
				go func(d Decision) {
					defer GinkgoRecover()
					defer wg.Done()
					if _, err := service.Resolve(ctx, pending.ID, d, manager, ""); err != nil {
						errs <- err
						return
					}
					wins.Add(1)
				}(decision)
			}
			wg.Wait()
			close(errs)

			Expect(wins.Load()).To(Equal(int32(1)))
			for err := range errs {
				Expect(errors.Is(err, internal.ErrAlreadyApproved) || errors.Is(err, internal.ErrAlreadyRejected)).To(BeTrue())
			}
			Expect(len(applier.applied)).To(BeNumerically("<=", 1))
		})

		It("discards files staged by a rejected request", func() {
			staged, err := service.Submit(ctx, employee, SubmitInput{
				Action: records.ActionCreate, Resource: records.ResourceCustomer,
				Proposed: changeset.Record{"name": "Joko"},
				Uploads:  []attachment.Upload{{Filename: "a.png", Body: strings.NewReader("a")}},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Resolve(ctx, staged.ID, DecisionReject, manager, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(blobs.deleted).To(ConsistOf("https://blob.test/customers/0-a.png"))
		})
	})

	Describe("queries", func() {
		It("counts pending requests and scopes my requests to the requester", func() {
			submitEdit(changeset.Record{"phone": "1"})
			second := submitEdit(changeset.Record{"phone": "2"})
			_, err := service.Resolve(ctx, second.ID, DecisionReject, manager, "")
			Expect(err).NotTo(HaveOccurred())

			count, err := service.CountPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			mine, total, err := service.ListMine(ctx, employee, Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(2)))
			Expect(mine).To(HaveLen(2))

			theirs, total, err := service.ListMine(ctx, manager, Page{})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(BeZero())
			Expect(theirs).To(BeEmpty())
		})

		It("hides other people's requests from employees", func() {
			req := submitEdit(changeset.Record{"phone": "3"})
			stranger := &auth.Actor{ID: uuid.NewString(), Role: auth.RoleEmployee}

			_, err := service.Get(ctx, stranger, req.ID)
			Expect(err).To(Equal(internal.ErrForbidden))

			got, err := service.Get(ctx, manager, req.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(req.ID))
		})
	})

	Describe("Delete", func() {
		It("is reserved to admins", func() {
			req := submitEdit(changeset.Record{"phone": "4"})

			Expect(service.Delete(ctx, manager, req.ID)).To(Equal(internal.ErrForbidden))
			Expect(service.Delete(ctx, admin, req.ID)).To(Succeed())

			_, err := repo.FindByID(ctx, req.ID)
			Expect(err).To(Equal(internal.ErrApprovalNotFound))
		})
	})
})

var _ = Describe("RequiresApproval", func() {
	DescribeTable("by role",
		func(actor *auth.Actor, action records.Action, expected bool) {
			Expect(RequiresApproval(actor, action, records.ResourcePayment)).To(Equal(expected))
		},
		Entry("admin create", &auth.Actor{Role: auth.RoleAdmin}, records.ActionCreate, false),
		Entry("admin delete", &auth.Actor{Role: auth.RoleAdmin}, records.ActionDelete, false),
		Entry("manager edit", &auth.Actor{Role: auth.RoleManager}, records.ActionEdit, false),
		Entry("employee create", &auth.Actor{Role: auth.RoleEmployee}, records.ActionCreate, true),
		Entry("employee edit", &auth.Actor{Role: auth.RoleEmployee}, records.ActionEdit, true),
		Entry("employee delete", &auth.Actor{Role: auth.RoleEmployee}, records.ActionDelete, true),
		Entry("unknown role", &auth.Actor{Role: auth.RoleUnknown}, records.ActionEdit, true),
		Entry("out-of-range role", &auth.Actor{Role: auth.Role(42)}, records.ActionEdit, true),
		Entry("no actor", nil, records.ActionCreate, true),
	)

	It("does not depend on the resource type", func() {
		actor := &auth.Actor{Role: auth.RoleEmployee}
		for _, rt := range []records.ResourceType{records.ResourceCustomer, records.ResourceItem, records.ResourceCost} {
			Expect(RequiresApproval(actor, records.ActionEdit, rt)).To(BeTrue())
		}
	})

	It("grants review authority to managers and admins only", func() {
		Expect(CanReview(auth.RoleAdmin)).To(BeTrue())
		Expect(CanReview(auth.RoleManager)).To(BeTrue())
		Expect(CanReview(auth.RoleEmployee)).To(BeFalse())
		Expect(CanReview(auth.RoleUnknown)).To(BeFalse())
	})
})
