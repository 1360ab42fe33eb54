package email

const (
	subjectActivityAssigned = "New activity assigned to you"
	subjectSlaViolationFmt  = "%d leads need attention"
)
