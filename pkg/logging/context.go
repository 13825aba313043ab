package logging

import (
	"context"
)

const (
	RequestIDKey   = "request_id"
	TicketIDKey    = "ticket_id"
	ServiceNameKey = "service_name"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithTicketID(ctx context.Context, ticketID int64) context.Context {
	return context.WithValue(ctx, TicketIDKey, ticketID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func GetTicketID(ctx context.Context) int64 {
	if ticketID, ok := ctx.Value(TicketIDKey).(int64); ok {
		return ticketID
	}
	return 0
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	if ticketID := GetTicketID(ctx); ticketID != 0 {
		fields = append(fields, "ticket_id", ticketID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
