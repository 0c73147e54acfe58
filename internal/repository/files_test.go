package repository

import (
	"reflect"
	"testing"
)

func TestBuildFileWhere(t *testing.T) {
	tests := []struct {
		name      string
		filter    FileFilter
		startArg  int
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "пустой фильтр",
			filter:    FileFilter{},
			startArg:  1,
			wantWhere: "",
		},
		{
			name:      "владелец",
			filter:    FileFilter{OwnerID: "alice"},
			startArg:  1,
			wantWhere: "WHERE owner_id = $1",
			wantArgs:  []any{"alice"},
		},
		{
			name:      "только публичные",
			filter:    FileFilter{PublicOnly: true},
			startArg:  1,
			wantWhere: "WHERE is_public",
		},
		{
			name:      "владелец и публичные со смещением аргументов",
			filter:    FileFilter{OwnerID: "bob", PublicOnly: true},
			startArg:  3,
			wantWhere: "WHERE owner_id = $3 AND is_public",
			wantArgs:  []any{"bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildFileWhere(tt.filter, tt.startArg)
			if where != tt.wantWhere {
				t.Errorf("where = %q, ожидалось %q", where, tt.wantWhere)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, ожидалось %v", args, tt.wantArgs)
			}
		})
	}
}

func TestLimitClause(t *testing.T) {
	if got := limitClause(0); got != "" {
		t.Errorf("limitClause(0) = %q, ожидалась пустая строка", got)
	}
	if got := limitClause(-5); got != "" {
		t.Errorf("limitClause(-5) = %q, ожидалась пустая строка", got)
	}
	if got := limitClause(1); got != " LIMIT 1" {
		t.Errorf("limitClause(1) = %q", got)
	}
}
