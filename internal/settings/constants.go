package settings

// DB config keys and defaults for settings.
const (
	// UsageDailyLimitKey controls the per-identity daily request cap.
	UsageDailyLimitKey = "USAGE_DAILY_LIMIT"
	// UsagePerMinuteLimitKey controls the per-identity per-minute request cap.
	UsagePerMinuteLimitKey = "USAGE_PER_MINUTE_LIMIT"
	// UsageSuspiciousDailyLimitKey controls the tightened daily cap for
	// identities whose latest risk label is suspicious.
	UsageSuspiciousDailyLimitKey = "USAGE_SUSPICIOUS_DAILY_LIMIT"
	// BurstLimitKey controls the per-second burst cap applied before the
	// persisted usage windows (0 disables the burst guard).
	BurstLimitKey = "GATE_BURST_LIMIT"
	// BurstRedisEnabledKey toggles Redis-backed burst limiting.
	BurstRedisEnabledKey = "GATE_BURST_REDIS_ENABLED"
	// BurstRedisAddrKey defines the Redis address for burst limiting.
	BurstRedisAddrKey = "GATE_BURST_REDIS_ADDR"
	// BurstRedisPasswordKey defines the Redis password for burst limiting.
	BurstRedisPasswordKey = "GATE_BURST_REDIS_PASSWORD"
	// BurstRedisDBKey defines the Redis DB index for burst limiting.
	BurstRedisDBKey = "GATE_BURST_REDIS_DB"
	// BurstRedisPrefixKey defines the Redis key prefix for burst limiting.
	BurstRedisPrefixKey = "GATE_BURST_REDIS_PREFIX"

	// DefaultUsageDailyLimit is the fallback daily request cap.
	DefaultUsageDailyLimit = 20
	// DefaultUsagePerMinuteLimit is the fallback per-minute request cap.
	DefaultUsagePerMinuteLimit = 6
	// DefaultUsageSuspiciousDailyLimit is the fallback suspicious daily cap.
	DefaultUsageSuspiciousDailyLimit = 3
	// DefaultBurstLimit is the fallback burst cap (0 means disabled).
	DefaultBurstLimit = 0
	// DefaultBurstRedisPrefix is the fallback Redis key prefix.
	DefaultBurstRedisPrefix = "cguard:rl"
)
