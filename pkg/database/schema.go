package database

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table and column names shared with the store.
const (
	LeadsTable         = "leads"
	ImportJobsTable    = "import_jobs"
	StatusHistoryTable = "lead_status_history"
)

var (
	leadColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "status", Type: field.TypeEnum, Enums: []string{"REGISTERED", "ACTIVE", "REMINDER", "GRACE_PERIOD", "EXPIRED", "CONVERTED"}, Default: "REGISTERED"},
		{Name: "stage", Type: field.TypeInt, Default: 0},
		{Name: "registered_at", Type: field.TypeTime},
		{Name: "protection_start_at", Type: field.TypeTime},
		{Name: "protection_months", Type: field.TypeInt, Default: 6},
		{Name: "last_activity_at", Type: field.TypeTime, Nullable: true},
		{Name: "progress_deadline", Type: field.TypeTime, Nullable: true},
		{Name: "progress_warning_sent_at", Type: field.TypeTime, Nullable: true},
		{Name: "clock_stopped_at", Type: field.TypeTime, Nullable: true},
		{Name: "stop_reason", Type: field.TypeString, Nullable: true, Size: 500},
		{Name: "stop_approved_by", Type: field.TypeInt, Nullable: true},
		{Name: "progress_pause_total_seconds", Type: field.TypeInt64, Default: 0},
		{Name: "expired_at", Type: field.TypeTime, Nullable: true},
		{Name: "contact_person", Type: field.TypeString, Nullable: true},
		{Name: "email", Type: field.TypeString, Nullable: true},
		{Name: "email_normalized", Type: field.TypeString, Nullable: true},
		{Name: "email_hash", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "phone", Type: field.TypeString, Nullable: true},
		{Name: "phone_e164", Type: field.TypeString, Nullable: true, Size: 20},
		{Name: "street", Type: field.TypeString, Nullable: true},
		{Name: "postal_code", Type: field.TypeString, Nullable: true, Size: 20},
		{Name: "city", Type: field.TypeString, Nullable: true},
		{Name: "website", Type: field.TypeString, Nullable: true},
		{Name: "company_name", Type: field.TypeString},
		{Name: "business_type", Type: field.TypeString, Nullable: true},
		{Name: "country_code", Type: field.TypeString, Size: 2, Default: "DE"},
		{Name: "source_campaign", Type: field.TypeString, Nullable: true},
		{Name: "pseudonymized_at", Type: field.TypeTime, Nullable: true},
		{Name: "gdpr_deleted_at", Type: field.TypeTime, Nullable: true},
		{Name: "owner_user_id", Type: field.TypeInt, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	leadsTable = &schema.Table{
		Name:       LeadsTable,
		Columns:    leadColumns,
		PrimaryKey: []*schema.Column{leadColumns[0]},
		Indexes: []*schema.Index{
			// progress warning and expiry scans
			{Name: "lead_status_progress_deadline", Columns: []*schema.Column{leadColumns[1], leadColumns[7]}},
			{Name: "lead_status_progress_warning_sent_at", Columns: []*schema.Column{leadColumns[1], leadColumns[8]}},
			// pseudonymization scan
			{Name: "lead_status_updated_at", Columns: []*schema.Column{leadColumns[1], leadColumns[32]}},
			{Name: "lead_email_hash", Columns: []*schema.Column{leadColumns[17]}},
			{Name: "lead_owner_user_id", Columns: []*schema.Column{leadColumns[30]}},
		},
	}

	importJobColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "source", Type: field.TypeString},
		{Name: "status", Type: field.TypeEnum, Enums: []string{"PENDING", "RUNNING", "COMPLETED", "FAILED"}, Default: "PENDING"},
		{Name: "rows_total", Type: field.TypeInt, Default: 0},
		{Name: "rows_imported", Type: field.TypeInt, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "ttl_expires_at", Type: field.TypeTime, Nullable: true},
	}
	importJobsTable = &schema.Table{
		Name:       ImportJobsTable,
		Columns:    importJobColumns,
		PrimaryKey: []*schema.Column{importJobColumns[0]},
		Indexes: []*schema.Index{
			{Name: "importjob_status_ttl_expires_at", Columns: []*schema.Column{importJobColumns[2], importJobColumns[7]}},
		},
	}

	statusHistoryColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "old_status", Type: field.TypeString, Nullable: true},
		{Name: "new_status", Type: field.TypeString},
		{Name: "reason", Type: field.TypeString, Nullable: true},
		{Name: "user_id", Type: field.TypeInt, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "lead_id", Type: field.TypeInt},
	}
	statusHistoryTable = &schema.Table{
		Name:       StatusHistoryTable,
		Columns:    statusHistoryColumns,
		PrimaryKey: []*schema.Column{statusHistoryColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "lead_status_history_leads_status_history",
				Columns:    []*schema.Column{statusHistoryColumns[6]},
				RefColumns: []*schema.Column{leadColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "leadstatushistory_lead_id_created_at", Columns: []*schema.Column{statusHistoryColumns[6], statusHistoryColumns[5]}},
		},
	}

	// Tables holds every table the service migrates.
	Tables = []*schema.Table{
		leadsTable,
		importJobsTable,
		statusHistoryTable,
	}
)

func init() {
	statusHistoryTable.ForeignKeys[0].RefTable = leadsTable
}
