// Package export assembles approved referrals into downstream payloads and
// submits them to Salesforce.
package export

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/referral-engine/internal/model"
	"github.com/sells-group/referral-engine/internal/resilience"
	sf "github.com/sells-group/referral-engine/pkg/salesforce"
)

// lineItemObject is the child SObject holding one record per service line.
const lineItemObject = "Referral_Line_Item__c"

// Payload is a referral plus its line items, flattened to SObject field maps.
type Payload struct {
	ReferralID string
	Fields     map[string]any
	LineItems  []map[string]any
}

// Exporter submits an assembled payload and returns the downstream record ID.
type Exporter interface {
	Submit(ctx context.Context, p Payload) (string, error)
}

// BuildPayload flattens a referral and its line items into Salesforce field
// maps. Empty optional fields are omitted so Salesforce keeps its defaults.
func BuildPayload(r *model.Referral, items []model.LineItem) Payload {
	fields := map[string]any{
		"External_Id__c":         r.ID,
		"Claim_Number__c":        r.ClaimNumber,
		"Claimant_First_Name__c": r.ClaimantFirstName,
		"Claimant_Last_Name__c":  r.ClaimantLastName,
		"Carrier__c":             r.Carrier,
		"Priority__c":            string(r.Priority),
		"Received_At__c":         r.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	setIf(fields, "Date_Of_Birth__c", r.DateOfBirth)
	setIf(fields, "Date_Of_Injury__c", r.DateOfInjury)
	setIf(fields, "Adjuster_Name__c", r.AdjusterName)
	setIf(fields, "Adjuster_Email__c", r.AdjusterEmail)
	setIf(fields, "Adjuster_Phone__c", r.AdjusterPhone)
	setIf(fields, "Employer__c", r.Employer)
	setIf(fields, "Jurisdiction_State__c", r.JurisdictionState)
	setIf(fields, "Address_Line_1__c", r.AddressLine1)
	setIf(fields, "Address_City__c", r.AddressCity)
	setIf(fields, "Address_State__c", r.AddressState)
	setIf(fields, "Address_Zip__c", r.AddressZip)
	setIf(fields, "ICD10_Code__c", r.ICD10Code)
	setIf(fields, "ICD10_Description__c", r.ICD10Description)
	setIf(fields, "Authorization_Number__c", r.AuthorizationNo)

	lineItems := make([]map[string]any, 0, len(items))
	for _, li := range items {
		m := map[string]any{
			"Line_No__c":    li.LineNo,
			"Description__c": li.Description,
		}
		setIf(m, "Service_Type__c", li.ServiceType)
		setIf(m, "Modality__c", string(li.Modality))
		setIf(m, "Body_Region__c", li.BodyRegion)
		setIf(m, "Laterality__c", li.Laterality)
		setIf(m, "Procedure_Code__c", li.ProcedureCode)
		setIf(m, "ICD10_Code__c", li.ICD10Code)
		if li.WithContrast != nil {
			m["With_Contrast__c"] = *li.WithContrast
		}
		if li.Quantity > 0 {
			m["Quantity__c"] = li.Quantity
		}
		lineItems = append(lineItems, m)
	}

	return Payload{ReferralID: r.ID, Fields: fields, LineItems: lineItems}
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// SalesforceExporter inserts referral records through the Salesforce REST API.
type SalesforceExporter struct {
	client sf.Client
	object string
	retry  resilience.Policy
}

// ExporterOption configures the Salesforce exporter.
type ExporterOption func(*SalesforceExporter)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p resilience.Policy) ExporterOption {
	return func(e *SalesforceExporter) { e.retry = p }
}

// NewSalesforceExporter wraps the given client. The object name is the
// referral SObject, e.g. Referral__c.
func NewSalesforceExporter(client sf.Client, object string, opts ...ExporterOption) *SalesforceExporter {
	e := &SalesforceExporter{
		client: client,
		object: object,
	}
	e.retry = resilience.DefaultPolicy()
	e.retry.ShouldRetry = resilience.IsTransient
	e.retry.OnRetry = resilience.RetryLogger("salesforce", "submit")
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit inserts the referral record and its line-item subrecords. Resubmits
// reuse an existing record matched by External_Id__c, so a retry after a
// partial failure does not create a duplicate referral.
func (e *SalesforceExporter) Submit(ctx context.Context, p Payload) (string, error) {
	recordID, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (string, error) {
		return e.upsertReferral(ctx, p)
	})
	if err != nil {
		return "", eris.Wrapf(err, "export: referral %s", p.ReferralID)
	}

	if len(p.LineItems) > 0 {
		if err := e.insertLineItems(ctx, recordID, p.LineItems); err != nil {
			return "", eris.Wrapf(err, "export: referral %s line items", p.ReferralID)
		}
	}

	zap.L().Info("referral exported",
		zap.String("referral_id", p.ReferralID),
		zap.String("record_id", recordID),
		zap.Int("line_items", len(p.LineItems)))
	return recordID, nil
}

// upsertReferral finds an existing record by external id or inserts a new one.
func (e *SalesforceExporter) upsertReferral(ctx context.Context, p Payload) (string, error) {
	soql := fmt.Sprintf(
		"SELECT Id FROM %s WHERE External_Id__c = '%s' LIMIT 1",
		e.object, sf.EscapeSOQL(p.ReferralID),
	)
	var existing []struct {
		ID string `json:"Id"`
	}
	if err := e.client.Query(ctx, soql, &existing); err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}
	return e.client.InsertOne(ctx, e.object, p.Fields)
}

func (e *SalesforceExporter) insertLineItems(ctx context.Context, recordID string, items []map[string]any) error {
	records := make([]map[string]any, len(items))
	for i, li := range items {
		m := make(map[string]any, len(li)+1)
		for k, v := range li {
			m[k] = v
		}
		m["Referral__c"] = recordID
		records[i] = m
	}

	results, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([]sf.CollectionResult, error) {
		return e.client.InsertCollection(ctx, lineItemObject, records)
	})
	if err != nil {
		return err
	}
	for i, r := range results {
		if !r.Success {
			return eris.New(fmt.Sprintf("export: line item %d rejected: %v", i+1, r.Errors))
		}
	}
	return nil
}
