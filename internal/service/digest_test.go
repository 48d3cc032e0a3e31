package service_test

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"basegraph.app/digest/core/config"
	"basegraph.app/digest/internal/model"
	"basegraph.app/digest/internal/service"
	"basegraph.app/digest/internal/service/issue_tracker"
	"basegraph.app/digest/internal/store"
)

const addressBar = "criterion:Firefox :: Address Bar"

var addressBarFilter = model.Filter{
	Components: []model.ComponentRef{{Product: "Firefox", Component: "Address Bar"}},
	Days:       7,
}

var _ = Describe("DigestService", func() {
	var (
		ctx        context.Context
		tracker    *fakeTracker
		summarizer *mockSummarizer
		sessions   store.SessionStore
		deps       service.DigestDeps
		svc        service.DigestService
		nextID     int64
	)

	build := func() {
		svc = service.NewDigestService(deps)
	}

	BeforeEach(func() {
		ctx = context.Background()
		tracker = newFakeTracker()
		summarizer = &mockSummarizer{}
		sessions = store.NewMemorySessionStore(time.Hour)
		nextID = 1000
		deps = service.DigestDeps{
			Tracker:    tracker,
			Sessions:   sessions,
			Summarizer: summarizer,
			Config: config.DigestConfig{
				Budget:          5 * time.Second,
				PageSize:        100,
				HighlightLimit:  3,
				OneshotMaxTotal: 50,
			},
			Now:   func() time.Time { return baseTime.Add(48 * time.Hour) },
			NewID: func() int64 { nextID++; return nextID },
		}
		build()
	})

	// drain pages a session to the end, returning every page response.
	drain := func(cursor string, pageSize int) []*service.PageResponse {
		var pages []*service.PageResponse
		for cursor != "" {
			resp, err := svc.Page(ctx, service.PageRequest{Cursor: cursor, PageSize: pageSize})
			Expect(err).ToNot(HaveOccurred())
			pages = append(pages, resp)
			cursor = resp.NextCursor
			Expect(len(pages)).To(BeNumerically("<", 100), "pagination does not terminate")
		}
		return pages
	}

	Describe("Discover", func() {
		It("rejects a filter without criteria", func() {
			_, err := svc.Discover(ctx, service.DiscoverRequest{Filter: model.Filter{Days: 7}})

			var pe *service.ProtocolError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Kind).To(Equal(service.ProtocolInvalidFilter))
		})

		DescribeTable("rejects a component missing a half",
			func(ref model.ComponentRef) {
				f := model.Filter{Components: []model.ComponentRef{ref}, Whiteboards: []string{"sng"}, Days: 7}
				_, err := svc.Discover(ctx, service.DiscoverRequest{Filter: f})

				var pe *service.ProtocolError
				Expect(errors.As(err, &pe)).To(BeTrue())
				Expect(pe.Kind).To(Equal(service.ProtocolInvalidFilter))
				Expect(tracker.searchCalls).To(BeZero())
			},
			Entry("empty object", model.ComponentRef{}),
			Entry("blank product", model.ComponentRef{Product: "  ", Component: "Address Bar"}),
			Entry("blank component", model.ComponentRef{Product: "Firefox"}),
		)

		It("rejects a window shorter than a day", func() {
			f := addressBarFilter
			f.Days = 0
			_, err := svc.Discover(ctx, service.DiscoverRequest{Filter: f})

			var pe *service.ProtocolError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Kind).To(Equal(service.ProtocolInvalidFilter))
		})

		It("surfaces only public candidates", func() {
			tracker.results[addressBar] = []model.Issue{
				issue("101", "Fix autofill", 1),
				restricted(issue("102", "Sandbox escape", 2), "core-security"),
				issue("103", "Faster suggestions", 3),
			}

			resp, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Cursor).ToNot(BeEmpty())
			Expect(resp.Total).To(Equal(2))
			Expect(resp.Removed.Security).To(Equal(1))

			var ids []string
			for _, c := range resp.Candidates {
				ids = append(ids, c.ID)
				Expect(c.Product).To(Equal("Firefox"))
			}
			Expect(ids).To(Equal([]string{"101", "103"}))
		})

		It("returns no cursor when nothing matches", func() {
			resp, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Cursor).To(BeEmpty())
			Expect(resp.Total).To(BeZero())
			Expect(resp.SessionID).ToNot(BeEmpty())
		})

		It("passes backend failures through", func() {
			tracker.searchErr = &issue_tracker.BackendError{Backend: "fake", Op: "search", StatusCode: 503, Err: errors.New("down")}

			_, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})

			var be *issue_tracker.BackendError
			Expect(errors.As(err, &be)).To(BeTrue())
			Expect(be.StatusCode).To(Equal(503))
		})
	})

	Describe("discover, page, finalize", func() {
		It("reports every qualifying issue across pages", func() {
			tracker.results[addressBar] = []model.Issue{
				issue("101", "Fix autofill", 1),
				issue("102", "Trim whitespace in URLs", 2),
				issue("103", "Faster suggestions", 3),
			}

			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(disc.Total).To(Equal(3))

			pages := drain(disc.Cursor, 2)
			Expect(pages).To(HaveLen(2))

			sum := 0
			for i, p := range pages {
				sum += len(p.QualifiedIDs)
				if i < len(pages)-1 {
					Expect(p.NextCursor).ToNot(BeEmpty())
				} else {
					Expect(p.NextCursor).To(BeEmpty())
				}
			}
			Expect(sum).To(Equal(disc.Total))
			Expect(pages[len(pages)-1].Total).To(Equal(sum))

			out, err := svc.Finalize(ctx, service.FinalizeRequest{SessionID: disc.SessionID})
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Count).To(Equal(3))
			for _, key := range []string{"101", "102", "103"} {
				Expect(out.Output).To(ContainSubstring(key))
			}
			Expect(out.HTML).To(ContainSubstring(`rel="noopener noreferrer"`))
			Expect(out.ReportID).To(BeNil())

			Expect(summarizer.requests).To(HaveLen(1))
			Expect(summarizer.requests[0].Changelogs).To(HaveKey("101"))
		})

		It("explains an empty result with a fallback link", func() {
			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(disc.Cursor).To(BeEmpty())

			out, err := svc.Finalize(ctx, service.FinalizeRequest{SessionID: disc.SessionID})
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Output).ToNot(BeEmpty())
			Expect(out.Output).To(ContainSubstring("No changes detected"))
			Expect(out.Output).To(ContainSubstring("https://tracker.test/search?q="))
			Expect(out.HTML).To(ContainSubstring(`<a href="https://tracker.test/search?q=`))
			Expect(summarizer.requests).To(BeEmpty())
		})

		It("deduplicates issues matched by overlapping criteria", func() {
			filter := model.Filter{
				Components: []model.ComponentRef{
					{Product: "Firefox", Component: "Address Bar"},
					{Product: "Firefox", Component: "Search"},
				},
				Days: 7,
			}
			shared := issue("200", "Shared fix", 5)
			tracker.results[addressBar] = []model.Issue{issue("201", "Only address bar", 1), shared}
			tracker.results["criterion:Firefox :: Search"] = []model.Issue{shared, issue("202", "Only search", 2)}

			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: filter})
			Expect(err).ToNot(HaveOccurred())
			Expect(disc.Total).To(Equal(3))
			Expect(disc.Removed.Duplicates).To(Equal(1))

			var ids []string
			pages := drain(disc.Cursor, 100)
			for _, p := range pages {
				ids = append(ids, p.QualifiedIDs...)
			}
			Expect(ids).To(ConsistOf("201", "200", "202"))
			Expect(len(ids)).To(Equal(disc.Total))

			last := pages[len(pages)-1]
			Expect(last.Removed.Duplicates).To(Equal(1))
			Expect(last.Total).To(Equal(3))
		})

		It("notes restricted issues that would have placed in the highlights", func() {
			tracker.results[addressBar] = []model.Issue{
				issue("101", "Fix autofill", 1),
				restricted(issue("102", "Sandbox escape in parent", 9), "core-security"),
				restricted(issue("103", "Partner launch", 8), "mozilla-employee-confidential"),
				issue("104", "Faster suggestions", 3),
			}

			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			pages := drain(disc.Cursor, 100)

			last := pages[len(pages)-1]
			Expect(last.QualifiedIDs).To(Equal([]string{"101", "104"}))
			Expect(last.Removed.Security).To(Equal(1))
			Expect(last.Removed.Confidential).To(Equal(1))

			out, err := svc.Finalize(ctx, service.FinalizeRequest{SessionID: disc.SessionID})
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Output).To(ContainSubstring("_candidate omitted (restricted: security)_"))
			Expect(out.Output).To(ContainSubstring("_candidate omitted (restricted: confidential)_"))
			Expect(out.Output).ToNot(ContainSubstring("Sandbox escape"))
			Expect(out.Output).ToNot(ContainSubstring("Partner launch"))
			Expect(out.Output).To(ContainSubstring("1 security, 1 confidential"))
			Expect(out.HTML).ToNot(ContainSubstring("Sandbox escape"))
			for _, req := range summarizer.requests {
				for _, i := range req.Issues {
					Expect(i.Groups).To(BeEmpty())
				}
			}
		})

		It("drops issues restricted after enumeration", func() {
			tracker.results[addressBar] = []model.Issue{issue("101", "Fix autofill", 1), issue("102", "Crash fix", 2)}
			tracker.details["102"] = restricted(issue("102", "Crash fix", 2), "core-security")

			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			drain(disc.Cursor, 100)

			out, err := svc.Finalize(ctx, service.FinalizeRequest{SessionID: disc.SessionID})
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Count).To(Equal(1))
			Expect(out.Removed.Security).To(Equal(1))
			Expect(out.Output).ToNot(ContainSubstring("Crash fix"))
		})
	})

	Describe("Page", func() {
		BeforeEach(func() {
			for i := range 5 {
				key := string(rune('a'+i)) + "-1"
				tracker.results[addressBar] = append(tracker.results[addressBar], issue(key, "Fix "+key, i))
			}
		})

		It("refuses a cursor that was already used", func() {
			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.Page(ctx, service.PageRequest{Cursor: disc.Cursor, PageSize: 2})
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.Page(ctx, service.PageRequest{Cursor: disc.Cursor, PageSize: 2})
			Expect(service.IsStale(err)).To(BeTrue())
		})

		It("refuses a malformed cursor", func() {
			_, err := svc.Page(ctx, service.PageRequest{Cursor: "not a cursor"})

			var pe *service.ProtocolError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Kind).To(Equal(service.ProtocolBadCursor))
		})

		It("refuses a cursor whose session expired", func() {
			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(sessions.Delete(ctx, disc.SessionID)).To(Succeed())

			_, err = svc.Page(ctx, service.PageRequest{Cursor: disc.Cursor})

			var pe *service.ProtocolError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Kind).To(Equal(service.ProtocolBadCursor))
		})

		It("caps the page size at the adapter page size", func() {
			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())

			resp, err := svc.Page(ctx, service.PageRequest{Cursor: disc.Cursor, PageSize: 5000})
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.QualifiedIDs).To(HaveLen(5))
			Expect(resp.NextCursor).To(BeEmpty())
		})

		It("settles the total when the backend shrinks between pages", func() {
			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(disc.Total).To(Equal(5))

			first, err := svc.Page(ctx, service.PageRequest{Cursor: disc.Cursor, PageSize: 2})
			Expect(err).ToNot(HaveOccurred())

			tracker.mu.Lock()
			tracker.results[addressBar] = tracker.results[addressBar][:3]
			tracker.mu.Unlock()

			pages := drain(first.NextCursor, 2)
			last := pages[len(pages)-1]
			Expect(last.NextCursor).To(BeEmpty())
			sum := len(first.QualifiedIDs)
			for _, p := range pages {
				sum += len(p.QualifiedIDs)
			}
			Expect(last.Total).To(Equal(sum))
		})

		It("keeps paging past short pages when the page size changes", func() {
			tracker.pageNumbered = true
			var all []model.Issue
			for i := 1; i <= 120; i++ {
				all = append(all, issue(strconv.Itoa(i), "Fix "+strconv.Itoa(i), i))
			}
			tracker.results[addressBar] = all

			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(disc.Total).To(Equal(120))

			first, err := svc.Page(ctx, service.PageRequest{Cursor: disc.Cursor, PageSize: 30})
			Expect(err).ToNot(HaveOccurred())
			Expect(first.QualifiedIDs).To(HaveLen(30))

			second, err := svc.Page(ctx, service.PageRequest{Cursor: first.NextCursor, PageSize: 50})
			Expect(err).ToNot(HaveOccurred())
			Expect(second.QualifiedIDs).To(HaveLen(20))
			Expect(second.NextCursor).ToNot(BeEmpty())

			pages := drain(second.NextCursor, 50)
			seen := append(append([]string{}, first.QualifiedIDs...), second.QualifiedIDs...)
			for _, p := range pages {
				seen = append(seen, p.QualifiedIDs...)
			}
			Expect(seen).To(HaveLen(120))
			Expect(pages[len(pages)-1].Total).To(Equal(120))
			Expect(pages[len(pages)-1].NextCursor).To(BeEmpty())
		})
	})

	Describe("Finalize", func() {
		It("refuses a session that still has pages", func() {
			tracker.results[addressBar] = []model.Issue{issue("101", "Fix autofill", 1)}
			disc, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.Finalize(ctx, service.FinalizeRequest{SessionID: disc.SessionID})

			var pe *service.ProtocolError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Kind).To(Equal(service.ProtocolUnfinished))
		})

		It("deduplicates and re-filters explicit ids", func() {
			tracker.details["1"] = issue("1", "Public fix", 1)
			tracker.details["2"] = restricted(issue("2", "Secret fix", 2), "core-security")

			out, err := svc.Finalize(ctx, service.FinalizeRequest{IDs: []string{"1", "2", "1", "404"}, Days: 7})
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Count).To(Equal(1))
			Expect(out.Removed).To(Equal(model.RemovedCounts{Security: 1, Duplicates: 1, Invalid: 1}))
			Expect(out.Output).To(ContainSubstring("Public fix"))
			Expect(out.Output).ToNot(ContainSubstring("Secret fix"))
		})

		It("wraps summarizer failures as backend errors", func() {
			summarizer.summarizeFunc = func(context.Context, service.SummaryRequest) (*service.Summary, error) {
				return nil, &issue_tracker.BackendError{Backend: "summarizer", Op: "summarize", Err: errors.New("rate limited")}
			}
			tracker.details["1"] = issue("1", "Public fix", 1)

			_, err := svc.Finalize(ctx, service.FinalizeRequest{IDs: []string{"1"}})

			var be *issue_tracker.BackendError
			Expect(errors.As(err, &be)).To(BeTrue())
			Expect(be.Backend).To(Equal("summarizer"))
		})

		It("archives and announces the report when configured", func() {
			reports := &mockReportStore{}
			publisher := &mockPublisher{}
			deps.Reports = reports
			deps.Publisher = publisher
			build()

			tracker.details["1"] = issue("1", "Public fix", 1)
			out, err := svc.Finalize(ctx, service.FinalizeRequest{IDs: []string{"1"}, Days: 7})
			Expect(err).ToNot(HaveOccurred())

			Expect(out.ReportID).ToNot(BeNil())
			Expect(*out.ReportID).To(Equal(int64(1001)))
			Expect(reports.created).To(HaveLen(1))
			Expect(reports.created[0].Markdown).To(Equal(out.Output))
			Expect(publisher.events).To(HaveLen(1))
			Expect(publisher.events[0].ReportID).To(Equal(int64(1001)))
			Expect(publisher.events[0].Qualified).To(Equal(1))
		})
	})

	Describe("Oneshot", func() {
		It("applies the same filtering as the phased path", func() {
			tracker.results[addressBar] = []model.Issue{
				issue("101", "Fix autofill", 1),
				restricted(issue("102", "Sandbox escape", 2), "core-security"),
				issue("103", "Faster suggestions", 3),
			}

			out, err := svc.Oneshot(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Count).To(Equal(2))
			Expect(out.Removed.Security).To(Equal(1))
			Expect(out.Output).To(ContainSubstring("101"))
			Expect(out.Output).To(ContainSubstring("103"))
			Expect(out.Output).ToNot(ContainSubstring("Sandbox escape"))
		})

		It("refuses results larger than the oneshot limit", func() {
			deps.Config.OneshotMaxTotal = 2
			build()
			tracker.results[addressBar] = []model.Issue{
				issue("1", "a", 1), issue("2", "b", 2), issue("3", "c", 3),
			}

			_, err := svc.Oneshot(ctx, service.DiscoverRequest{Filter: addressBarFilter})

			var pe *service.ProtocolError
			Expect(errors.As(err, &pe)).To(BeTrue())
			Expect(pe.Kind).To(Equal(service.ProtocolTooLarge))
		})
	})

	Describe("search cache", func() {
		BeforeEach(func() {
			mr := miniredis.RunT(GinkgoT())
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			DeferCleanup(rdb.Close)
			deps.Cache = rdb
			deps.CacheTTL = time.Minute
			build()
			tracker.results[addressBar] = []model.Issue{issue("101", "Fix autofill", 1)}
		})

		It("reuses cached searches unless the request skips the cache", func() {
			_, err := svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			calls := tracker.calls()

			_, err = svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter})
			Expect(err).ToNot(HaveOccurred())
			Expect(tracker.calls()).To(Equal(calls))

			_, err = svc.Discover(ctx, service.DiscoverRequest{Filter: addressBarFilter, SkipCache: true})
			Expect(err).ToNot(HaveOccurred())
			Expect(tracker.calls()).To(Equal(calls + 1))
		})
	})
})
