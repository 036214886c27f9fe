package store

import (
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

// ReportHit is one search result over past reports.
type ReportHit struct {
	TaskID  string
	SiteURL string
	Reason  string
	Score   float64
}

// ReportIndex provides keyword search over persisted terminal reports, so
// past runs against a site or goal can be found again.
type ReportIndex struct {
	index bleve.Index
	path  string
}

// NewReportIndex creates or opens the report search index next to dbPath.
// A corrupted index is deleted and recreated.
func NewReportIndex(dbPath string) (*ReportIndex, error) {
	indexPath := dbPath + ".bleve"

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(indexPath, buildReportMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create report index: %w", err)
		}
	} else if err != nil {
		log.Printf("WARNING: report index appears corrupted (%v), recreating", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			log.Printf("WARNING: failed to remove corrupted index: %v", err)
		}
		index, err = bleve.New(indexPath, buildReportMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate report index: %w", err)
		}
	}

	return &ReportIndex{index: index, path: indexPath}, nil
}

func buildReportMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	reportMapping := bleve.NewDocumentMapping()

	taskIDField := bleve.NewTextFieldMapping()
	taskIDField.Analyzer = keyword.Name
	taskIDField.Store = true
	taskIDField.Index = true
	reportMapping.AddFieldMappingsAt("task_id", taskIDField)

	siteURLField := bleve.NewTextFieldMapping()
	siteURLField.Analyzer = keyword.Name
	siteURLField.Store = true
	siteURLField.Index = true
	reportMapping.AddFieldMappingsAt("site_url", siteURLField)

	goalField := bleve.NewTextFieldMapping()
	goalField.Analyzer = standard.Name
	goalField.Store = false
	goalField.Index = true
	reportMapping.AddFieldMappingsAt("goal", goalField)

	reasonField := bleve.NewTextFieldMapping()
	reasonField.Analyzer = standard.Name
	reasonField.Store = true
	reasonField.Index = true
	reportMapping.AddFieldMappingsAt("reason", reasonField)

	issuesField := bleve.NewTextFieldMapping()
	issuesField.Analyzer = standard.Name
	issuesField.Store = false
	issuesField.Index = true
	reportMapping.AddFieldMappingsAt("issues", issuesField)

	indexMapping.DefaultMapping = reportMapping
	return indexMapping
}

// IndexReport adds a terminal report to the search index.
func (r *ReportIndex) IndexReport(res *task.Result, siteURL, goal string) error {
	var issues string
	if res.QualityReport != nil {
		for _, issue := range res.QualityReport.Issues {
			issues += issue + "\n"
		}
	}

	doc := map[string]interface{}{
		"task_id":  res.TaskID,
		"site_url": siteURL,
		"goal":     goal,
		"reason":   string(res.Reason),
		"issues":   issues,
	}
	return r.index.Index(res.TaskID, doc)
}

// Search finds past reports matching the query (goal text, failure reason,
// or quality issues).
func (r *ReportIndex) Search(query string, k int) ([]ReportHit, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = k
	req.Fields = []string{"task_id", "site_url", "reason"}

	result, err := r.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("report search failed: %w", err)
	}

	hits := make([]ReportHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		h := ReportHit{TaskID: hit.ID, Score: hit.Score}
		if siteURL, ok := hit.Fields["site_url"].(string); ok {
			h.SiteURL = siteURL
		}
		if reason, ok := hit.Fields["reason"].(string); ok {
			h.Reason = reason
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close closes the underlying index.
func (r *ReportIndex) Close() error {
	return r.index.Close()
}
