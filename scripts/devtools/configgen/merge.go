package main

import "fmt"

// normalizeValue turns yaml's map[interface{}]interface{} into string-keyed maps.
func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap deep-merges override into a copy of base. Lists are replaced.
func mergeMap(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for key, overrideValue := range override {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			merged[key] = mergeMap(baseChild, overrideChild)
			continue
		}
		merged[key] = overrideValue
	}
	return merged
}

// applyShared fills the infrastructure endpoints into the sections a
// service config already declares.
func applyShared(shared SharedProfile, config map[string]interface{}) {
	if shared.DatabaseDSN != "" {
		setIn(config, "database", "dsn", shared.DatabaseDSN)
	}
	if shared.RedisAddr != "" {
		setIn(config, "redis", "addr", shared.RedisAddr)
	}
	if len(shared.KafkaBrokers) > 0 {
		brokers := make([]interface{}, 0, len(shared.KafkaBrokers))
		for _, b := range shared.KafkaBrokers {
			brokers = append(brokers, b)
		}
		setIn(config, "kafka", "brokers", brokers)
	}
	if shared.SandboxURL != "" {
		setIn(config, "sandbox", "baseURL", shared.SandboxURL)
	}
}

func setIn(config map[string]interface{}, section, key string, value interface{}) {
	child, ok := config[section].(map[string]interface{})
	if !ok {
		return
	}
	child[key] = value
}
