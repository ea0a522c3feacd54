package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "hypepipe"
)

// Ключи состояния
const (
	// RedisKeyCacheBypass — строковый флаг "on"/"off": текущее состояние
	// аварийного отключения кэша результатов. Читается при старте шлюза.
	RedisKeyCacheBypass = RedisNamespace + ":cache:bypass"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanCacheBypass — канал для рантайм-переключения кэша
	// без редеплоя (incident response / debugging).
	RedisChanCacheBypass = RedisNamespace + ":cache:bypass-signal"
)
