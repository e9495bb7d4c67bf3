package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestConversation_Fields(t *testing.T) {
	typ := reflect.TypeOf(Conversation{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:64")
	assertGormTag(t, typ, "OriginalRequest", "type:text")
	assertGormTag(t, typ, "Variant", "index")
	assertGormTag(t, typ, "Status", "default:processing")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "UpdatedAt", "index")
	assertGormTag(t, typ, "Messages", "foreignKey:ConversationID")
	assertFieldType(t, typ, "Active", "bool")
	assertFieldType(t, typ, "Messages", "[]models.ConversationMessage")
}

func TestConversationMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(ConversationMessage{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "ConversationID", "uniqueIndex:idx_conv_seq")
	assertGormTag(t, typ, "ConversationID", "uniqueIndex:idx_conv_msg")
	assertGormTag(t, typ, "Sequence", "uniqueIndex:idx_conv_seq")
	assertGormTag(t, typ, "MessageID", "uniqueIndex:idx_conv_msg")
	assertGormTag(t, typ, "Content", "type:text")
	assertFieldType(t, typ, "Sequence", "int")
}

func TestGenerationLog_Fields(t *testing.T) {
	typ := reflect.TypeOf(GenerationLog{})

	assertGormTag(t, typ, "Provider", "size:32")
	assertGormTag(t, typ, "Model", "index")
	assertFieldType(t, typ, "Cost", "float64")
	assertFieldType(t, typ, "LatencyMs", "int")
}
