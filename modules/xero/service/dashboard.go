package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/modules/xero/dto"

	"github.com/tidwall/gjson"
)

// DashboardResources are fetched in this order, one paced call each.
var DashboardResources = []string{"Invoices", "Contacts", "BankTransactions", "Accounts", "Organisation"}

// Dashboard fetches the dashboard resources and summarises whatever could be read.
// Failed resources are reported, not escalated, unless every fetch failed or the
// connection needs to be authorized again.
func (s *ConnectionService) Dashboard(ctx context.Context, companyID int64, tenantHint string) (*dto.DashboardResponse, error) {
	tenantID, err := s.tenants.Resolve(ctx, companyID, tenantHint)
	if err != nil {
		return nil, err
	}

	resp := &dto.DashboardResponse{
		CompanyID:   companyID,
		TenantID:    tenantID,
		Resources:   make([]dto.ResourceOutcome, 0, len(DashboardResources)),
		GeneratedAt: s.now().UTC(),
	}
	agg := &aggregator{companyID: companyID, summary: &resp.Summary}

	var firstErr error
	for _, resource := range DashboardResources {
		doc, err := s.fetcher.Fetch(ctx, companyID, tenantID, resource, nil)
		if err != nil {
			if errors.Is(err, errors.ErrReauthorizationRequired) {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn("ConnectionService:Dashboard:ResourceFailed", "company_id", companyID, "resource", resource, "error", err)
			resp.FailedResources = append(resp.FailedResources, resource)
			resp.Resources = append(resp.Resources, dto.ResourceOutcome{Resource: resource, Error: errorInfo(err)})
			continue
		}

		items := doc.Items()
		agg.add(resource, items)
		resp.Resources = append(resp.Resources, dto.ResourceOutcome{Resource: resource, OK: true, Count: len(items)})
	}

	if len(resp.FailedResources) == len(DashboardResources) {
		return nil, firstErr
	}
	resp.Partial = len(resp.FailedResources) > 0

	resp.TenantName = s.tenantCache.Name(ctx, companyID, tenantID)
	if resp.TenantName == "" {
		resp.TenantName = resp.Summary.OrganisationName
	}

	resp.SnapshotKey = s.archiveDashboard(ctx, resp)
	return resp, nil
}

// archiveDashboard stores the response when an archive is configured. Failures are only logged.
func (s *ConnectionService) archiveDashboard(ctx context.Context, resp *dto.DashboardResponse) string {
	if s.archive == nil {
		return ""
	}
	body, err := json.Marshal(resp)
	if err != nil {
		logger.Error("ConnectionService:ArchiveDashboard:Marshal", "company_id", resp.CompanyID, "error", err)
		return ""
	}
	key := fmt.Sprintf("dashboards/%d/%s.json", resp.CompanyID, resp.GeneratedAt.Format("20060102T150405Z"))
	if err := s.archive.Put(ctx, key, body, "application/json"); err != nil {
		logger.Error("ConnectionService:ArchiveDashboard:Put", "company_id", resp.CompanyID, "key", key, "error", err)
		return ""
	}
	return key
}

type aggregator struct {
	companyID int64
	summary   *dto.DashboardSummary
}

func (a *aggregator) add(resource string, items []gjson.Result) {
	switch resource {
	case "Invoices":
		a.summary.InvoiceCount = len(items)
		for _, inv := range items {
			switch strings.ToUpper(inv.Get("Type").String()) {
			case "ACCREC":
				a.summary.TotalInvoiced += a.number(resource, inv, "Total")
				a.summary.TotalReceivable += a.number(resource, inv, "AmountDue")
			case "ACCPAY":
				a.summary.TotalPayable += a.number(resource, inv, "AmountDue")
			}
		}
	case "Contacts":
		a.summary.ContactCount = len(items)
	case "BankTransactions":
		a.summary.BankTransactionCount = len(items)
		for _, tx := range items {
			kind := strings.ToUpper(tx.Get("Type").String())
			switch {
			case strings.HasPrefix(kind, "RECEIVE"):
				a.summary.TotalReceived += a.number(resource, tx, "Total")
			case strings.HasPrefix(kind, "SPEND"):
				a.summary.TotalSpent += a.number(resource, tx, "Total")
			}
		}
	case "Accounts":
		a.summary.AccountCount = len(items)
	case "Organisation":
		if len(items) > 0 {
			a.summary.OrganisationName = items[0].Get("Name").String()
			a.summary.BaseCurrency = items[0].Get("BaseCurrency").String()
		}
	}
}

// number reads a numeric field. Missing or unparsable values count as zero and are logged.
func (a *aggregator) number(resource string, item gjson.Result, field string) float64 {
	v := item.Get(field)
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64); err == nil {
			return f
		}
	}
	a.summary.SkippedValues++
	logger.Warn("ConnectionService:Dashboard:UnparsableNumber",
		"company_id", a.companyID, "resource", resource, "field", field, "raw", v.Raw)
	return 0
}
