// Package taxtable provides the tax classification tables used to annotate
// NFC-e items. Data is static; a real deployment would refresh it from the
// official tables.
package taxtable

import "github.com/boddenberg/pdv-fiscal-go/internal/domain"

// Table names one of the classification tables.
type Table string

const (
	TableNCM   Table = "ncm"   // merchandise classification
	TableCFOP  Table = "cfop"  // fiscal operation code
	TableCST   Table = "cst"   // tax situation, normal regime
	TableCSOSN Table = "csosn" // tax situation, Simples Nacional
)

// Repository is a read-only lookup over the classification tables.
type Repository struct {
	tables map[Table]map[string]string
}

// New returns a repository seeded with the default tables.
func New() *Repository {
	return &Repository{
		tables: map[Table]map[string]string{
			TableNCM: {
				"6109":     "Camisetas de malha",
				"2203":     "Cervejas de malte",
				"22021000": "Águas minerais e gaseificadas, adicionadas de açúcar",
				"04012010": "Leite UHT",
				"19052090": "Pães de forma e similares",
			},
			TableCFOP: {
				"5102": "Venda de mercadoria adquirida de terceiros",
				"5101": "Venda de produção do estabelecimento",
				"5405": "Venda de mercadoria com ST, na condição de substituído",
			},
			TableCST: {
				"00": "Tributada integralmente",
				"20": "Com redução de base de cálculo",
				"40": "Isenta",
				"60": "ICMS cobrado anteriormente por substituição tributária",
			},
			TableCSOSN: {
				"102": "Tributada pelo Simples Nacional sem permissão de crédito",
				"500": "ICMS cobrado anteriormente por substituição tributária",
				"900": "Outros",
			},
		},
	}
}

// NewWithTables builds a repository over caller-provided tables.
// The maps are copied.
func NewWithTables(tables map[Table]map[string]string) *Repository {
	r := &Repository{tables: make(map[Table]map[string]string, len(tables))}
	for name, rows := range tables {
		cp := make(map[string]string, len(rows))
		for code, desc := range rows {
			cp[code] = desc
		}
		r.tables[name] = cp
	}
	return r
}

// Find looks up code in table. A miss is not an error.
func (r *Repository) Find(table Table, code string) (domain.TaxEntry, bool) {
	rows, ok := r.tables[table]
	if !ok {
		return domain.TaxEntry{}, false
	}
	desc, ok := rows[code]
	if !ok || desc == "" {
		return domain.TaxEntry{}, false
	}
	return domain.TaxEntry{Code: code, Description: desc}, true
}

func (r *Repository) FindNCM(code string) (domain.TaxEntry, bool)   { return r.Find(TableNCM, code) }
func (r *Repository) FindCFOP(code string) (domain.TaxEntry, bool)  { return r.Find(TableCFOP, code) }
func (r *Repository) FindCST(code string) (domain.TaxEntry, bool)   { return r.Find(TableCST, code) }
func (r *Repository) FindCSOSN(code string) (domain.TaxEntry, bool) { return r.Find(TableCSOSN, code) }
