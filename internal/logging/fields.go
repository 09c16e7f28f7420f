package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求 ID、路由分类与响应来源字段，供拦截日志复用。
func RequestFields(requestID, method, url, routeClass, source string) logrus.Fields {
	fields := logrus.Fields{
		"method":      method,
		"url":         url,
		"route_class": routeClass,
		"source":      source,
		"cache_hit":   source == "cache" || source == "offline",
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// WorkerFields 描述某个版本的 agent，供生命周期日志复用。
func WorkerFields(action, version, state string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"version": version,
		"state":   state,
	}
}
