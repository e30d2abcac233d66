package settings

// DB config keys that override file and environment limits at runtime.
const (
	// GuestSessionLimitKey caps distinct guest sessions per IP per day.
	GuestSessionLimitKey = "GUEST_USER_SESSION_LIMIT"
	// FreePlanMicroappLimitKey caps non-archived microapps for free-tier owners.
	FreePlanMicroappLimitKey = "FREE_PLAN_MICROAPP_LIMIT"
	// FreePlanCreditsKey sets the allocation of synthesized free cycles.
	FreePlanCreditsKey = "FREE_PLAN_CREDITS"
	// DefaultModelKey overrides the model used when a run names none.
	DefaultModelKey = "DEFAULT_AI_MODEL"
)
