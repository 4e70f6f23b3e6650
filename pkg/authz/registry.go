package authz

const (
	RoleTenantAdmin = "tenant-admin"
	RoleHROperator  = "hr-operator"
	RoleHRViewer    = "hr-viewer"
	RoleAnonymous   = "anonymous"
)

const (
	ActionRead  = "read"
	ActionAdmin = "admin"
)

const (
	ObjectPersonPersons            = "person.persons"
	ObjectPersonRecords            = "person.records"
	ObjectPersonStatistics         = "person.statistics"
	ObjectAdjustmentPayroll        = "adjustment.payroll"
	ObjectAdjustmentHousingFund    = "adjustment.housing-fund"
	ObjectAdjustmentSocialSecurity = "adjustment.social-security"
	ObjectAdjustmentTaxDeduction   = "adjustment.tax-deduction"
)

// DefaultPolicy is the built-in rule set, mirrored by config/access/policy.csv.
func DefaultPolicy() [][]string {
	adjustments := []string{
		ObjectAdjustmentPayroll,
		ObjectAdjustmentHousingFund,
		ObjectAdjustmentSocialSecurity,
		ObjectAdjustmentTaxDeduction,
	}
	all := append([]string{ObjectPersonPersons, ObjectPersonRecords, ObjectPersonStatistics}, adjustments...)

	var rules [][]string
	for _, obj := range all {
		rules = append(rules,
			[]string{SubjectFromRoleSlug(RoleTenantAdmin), "*", obj, ActionRead},
			[]string{SubjectFromRoleSlug(RoleTenantAdmin), "*", obj, ActionAdmin},
			[]string{SubjectFromRoleSlug(RoleHRViewer), "*", obj, ActionRead},
		)
	}
	for _, obj := range adjustments {
		rules = append(rules,
			[]string{SubjectFromRoleSlug(RoleHROperator), "*", obj, ActionRead},
			[]string{SubjectFromRoleSlug(RoleHROperator), "*", obj, ActionAdmin},
		)
	}
	rules = append(rules,
		[]string{SubjectFromRoleSlug(RoleHROperator), "*", ObjectPersonPersons, ActionRead},
		[]string{SubjectFromRoleSlug(RoleHROperator), "*", ObjectPersonRecords, ActionRead},
		[]string{SubjectFromRoleSlug(RoleHROperator), "*", ObjectPersonStatistics, ActionRead},
	)
	return rules
}
