package docstoremock

//go:generate mockgen -destination store.go -package docstoremock github.com/docmap/docmap/port/docstore Store
