package mapper_test

import (
	"encoding/json"
	"time"

	"basegraph.app/digest/internal/mapper"
	"basegraph.app/digest/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

var _ = Describe("BugzillaMapper", func() {
	var m *mapper.BugzillaMapper

	BeforeEach(func() {
		m = mapper.NewBugzillaMapper("https://bugzilla.mozilla.org/")
	})

	It("maps a resolved bug", func() {
		resolved := "2025-03-02T10:00:00Z"
		issue := m.Map(mapper.BugzillaBug{
			ID:               1834512,
			Summary:          "  Address bar loses focus ",
			Product:          "Firefox",
			Component:        "Address Bar",
			Status:           "RESOLVED",
			Resolution:       "FIXED",
			AssignedTo:       "dev@example.com",
			AssignedToDetail: &mapper.BugzillaUserDetail{RealName: "Dev Eloper", Email: "dev@example.com"},
			LastChangeTime:   "2025-03-03T08:00:00Z",
			LastResolved:     &resolved,
			Keywords:         []string{"regression"},
			Whiteboard:       "[fxa] [sng]",
		})

		Expect(issue.Key).To(Equal("1834512"))
		Expect(issue.Summary).To(Equal("Address bar loses focus"))
		Expect(issue.StatusCategory).To(Equal(model.StatusCategoryDone))
		Expect(issue.Assignee.DisplayName()).To(Equal("Dev Eloper"))
		Expect(issue.Labels).To(Equal([]string{"regression", "fxa", "sng"}))
		Expect(issue.URL).To(Equal("https://bugzilla.mozilla.org/show_bug.cgi?id=1834512"))
		Expect(issue.Resolved).ToNot(BeNil())
		Expect(issue.RankTime()).To(Equal(time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)))
		Expect(issue.IsSecure).To(BeFalse())
	})

	It("marks bugs with groups as secure and keeps the groups", func() {
		issue := m.Map(mapper.BugzillaBug{ID: 7, Summary: "x", Groups: []string{"core-security"}})

		Expect(issue.IsSecure).To(BeTrue())
		Expect(issue.Groups).To(ConsistOf("core-security"))
	})

	It("treats the nobody account as unassigned", func() {
		issue := m.Map(mapper.BugzillaBug{ID: 7, Summary: "x", AssignedTo: "nobody@mozilla.org"})
		Expect(issue.Assignee.DisplayName()).To(Equal("nobody"))
	})

	It("maps history entries in order", func() {
		entries := m.MapHistory([]mapper.BugzillaHistoryEntry{
			{When: "2025-03-01T00:00:00Z", Who: "a@example.com", Changes: []mapper.BugzillaChange{{FieldName: "status", Removed: "NEW", Added: "ASSIGNED"}}},
			{When: "2025-03-02T00:00:00Z", Who: "b@example.com", Changes: []mapper.BugzillaChange{{FieldName: "status", Removed: "ASSIGNED", Added: "RESOLVED"}}},
		})

		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Changes[0]).To(Equal(model.Change{Field: "status", From: "NEW", To: "ASSIGNED"}))
		Expect(entries[1].When.After(entries[0].When)).To(BeTrue())
	})

	DescribeTable("status categories",
		func(status string, want model.StatusCategory) {
			Expect(mapper.BugzillaStatusCategory(status)).To(Equal(want))
		},
		Entry("new", "NEW", model.StatusCategoryToDo),
		Entry("unconfirmed", "UNCONFIRMED", model.StatusCategoryToDo),
		Entry("assigned", "ASSIGNED", model.StatusCategoryInProgress),
		Entry("reopened", "REOPENED", model.StatusCategoryInProgress),
		Entry("resolved", "RESOLVED", model.StatusCategoryDone),
		Entry("verified", "VERIFIED", model.StatusCategoryDone),
		Entry("closed", "closed", model.StatusCategoryDone),
	)
})

var _ = Describe("JiraMapper", func() {
	var m *mapper.JiraMapper

	BeforeEach(func() {
		m = mapper.NewJiraMapper("https://mozilla-hub.atlassian.net")
	})

	It("decodes and maps a search result", func() {
		raw := `{
			"id": "10042",
			"key": "FXA-93",
			"fields": {
				"summary": "Rotate signing keys",
				"project": {"key": "FXA", "name": "Accounts"},
				"components": [{"name": "Auth"}],
				"status": {"name": "Done", "statusCategory": {"key": "done"}},
				"resolution": {"name": "Fixed"},
				"assignee": {"displayName": "Ada", "emailAddress": "ada@example.com"},
				"updated": "2025-02-05T09:00:00.000+0000",
				"resolutiondate": "2025-02-04T09:00:00.000+0000",
				"labels": ["backend", "backend"]
			}
		}`
		var ji mapper.JiraIssue
		Expect(json.Unmarshal([]byte(raw), &ji)).To(Succeed())

		issue := m.Map(ji)
		Expect(issue.Key).To(Equal("FXA-93"))
		Expect(issue.ID).To(Equal("10042"))
		Expect(issue.Component).To(Equal("Auth"))
		Expect(issue.StatusCategory).To(Equal(model.StatusCategoryDone))
		Expect(issue.Labels).To(Equal([]string{"backend"}))
		Expect(issue.Resolved).ToNot(BeNil())
		Expect(*issue.Resolved).To(Equal(time.Date(2025, 2, 4, 9, 0, 0, 0, time.UTC)))
		Expect(issue.URL).To(Equal("https://mozilla-hub.atlassian.net/browse/FXA-93"))
		Expect(issue.IsSecure).To(BeFalse())
	})

	It("derives the restriction group from the security level", func() {
		issue := m.Map(mapper.JiraIssue{Key: "FXA-1", Fields: mapper.JiraIssueFields{Security: &mapper.JiraName{Name: "Mozilla Confidential"}}})
		Expect(issue.IsSecure).To(BeTrue())
		Expect(issue.Groups).To(Equal([]string{"confidential"}))

		issue = m.Map(mapper.JiraIssue{Key: "FXA-2", Fields: mapper.JiraIssueFields{Security: &mapper.JiraName{Name: "Security Sensitive"}}})
		Expect(issue.Groups).To(Equal([]string{"security"}))
	})

	It("accepts epoch milliseconds in changelog timestamps", func() {
		var h mapper.JiraChangeHistory
		Expect(json.Unmarshal([]byte(`{"id":"1","created":1738746000000,"items":[{"field":"status","fromString":"Open","toString":"Done"}]}`), &h)).To(Succeed())

		entries := m.MapHistory([]mapper.JiraChangeHistory{h})
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].When).To(Equal(time.UnixMilli(1738746000000).UTC()))
		Expect(entries[0].Changes[0].To).To(Equal("Done"))
	})

	It("rejects unparseable timestamps", func() {
		var t mapper.JiraTime
		Expect(json.Unmarshal([]byte(`"yesterday"`), &t)).ToNot(Succeed())
	})
})

var _ = Describe("GitLabMapper", func() {
	var m *mapper.GitLabMapper

	BeforeEach(func() {
		m = mapper.NewGitLabMapper()
	})

	It("keys issues by full reference", func() {
		closed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		issue := m.Map(&gitlab.Issue{
			ID:         991,
			IID:        12,
			Title:      "Fix pipeline cache",
			State:      "closed",
			Labels:     gitlab.Labels{"ci", "cache"},
			WebURL:     "https://gitlab.com/group/app/-/issues/12",
			ClosedAt:   &closed,
			UpdatedAt:  &closed,
			References: &gitlab.IssueReferences{Full: "group/app#12"},
			Assignee:   &gitlab.IssueAssignee{Name: "Grace", Username: "grace"},
		})

		Expect(issue.Key).To(Equal("group/app#12"))
		Expect(issue.Project).To(Equal("group/app"))
		Expect(issue.Component).To(Equal("ci"))
		Expect(issue.StatusCategory).To(Equal(model.StatusCategoryDone))
		Expect(issue.Assignee.DisplayName()).To(Equal("Grace"))
		Expect(issue.Resolved).ToNot(BeNil())
	})

	It("flags confidential issues", func() {
		issue := m.Map(&gitlab.Issue{IID: 3, Title: "secret", Confidential: true})
		Expect(issue.IsSecure).To(BeTrue())
		Expect(issue.Groups).To(Equal([]string{"confidential"}))
	})

	DescribeTable("parsing keys",
		func(key, wantPath string, wantIID int64, wantErr bool) {
			path, iid, err := mapper.ParseGitLabKey(key)
			if wantErr {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).ToNot(HaveOccurred())
			Expect(path).To(Equal(wantPath))
			Expect(iid).To(Equal(wantIID))
		},
		Entry("nested group", "org/group/app#42", "org/group/app", int64(42), false),
		Entry("missing iid", "group/app#", "", int64(0), true),
		Entry("missing path", "#4", "", int64(0), true),
		Entry("not a number", "group/app#x", "", int64(0), true),
	)
})
