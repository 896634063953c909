package taxtable_test

import (
	"testing"

	"github.com/boddenberg/pdv-fiscal-go/internal/infra/taxtable"
)

func TestFind_KnownCodes(t *testing.T) {
	repo := taxtable.New()

	cases := []struct {
		table taxtable.Table
		code  string
		want  string
	}{
		{taxtable.TableNCM, "6109", "Camisetas de malha"},
		{taxtable.TableCFOP, "5102", "Venda de mercadoria adquirida de terceiros"},
		{taxtable.TableCST, "00", "Tributada integralmente"},
		{taxtable.TableCSOSN, "900", "Outros"},
	}

	for _, tc := range cases {
		entry, ok := repo.Find(tc.table, tc.code)
		if !ok {
			t.Fatalf("expected %s/%s to exist", tc.table, tc.code)
		}
		if entry.Code != tc.code || entry.Description != tc.want {
			t.Errorf("%s/%s: got %+v", tc.table, tc.code, entry)
		}
	}
}

func TestFind_UnknownCodeIsNotAnError(t *testing.T) {
	repo := taxtable.New()

	if _, ok := repo.FindNCM("99999999"); ok {
		t.Fatal("expected miss for unknown NCM")
	}
	if _, ok := repo.Find(taxtable.Table("ibpt"), "1"); ok {
		t.Fatal("expected miss for unknown table")
	}
}

func TestNewWithTables_CopiesInput(t *testing.T) {
	src := map[taxtable.Table]map[string]string{
		taxtable.TableCFOP: {"5102": "Venda"},
	}
	repo := taxtable.NewWithTables(src)
	src[taxtable.TableCFOP]["5102"] = "changed"

	entry, ok := repo.FindCFOP("5102")
	if !ok || entry.Description != "Venda" {
		t.Errorf("expected copied table, got %+v (ok=%v)", entry, ok)
	}
}
