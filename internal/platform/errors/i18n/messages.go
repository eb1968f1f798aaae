package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown                 = "UNKNOWN"
	CodeCommandInvalid          = "COMMAND_INVALID"
	CodeCommandValidationFailed = "COMMAND_VALIDATION_FAILED"
	CodeProcessingFailed        = "PROCESSING_FAILED"
	CodeInstanceChoked          = "INSTANCE_CHOKED"
	CodeUnavailable             = "UNAVAILABLE"
	CodeUnknownInstanceType     = "UNKNOWN_INSTANCE_TYPE"
	CodeNotFound                = "NOT_FOUND"
)

var enUS = map[Code]string{
	CodeUnknown:                 "An unexpected error occurred.",
	CodeCommandInvalid:          "This command cannot be accepted right now.",
	CodeCommandValidationFailed: "The command is invalid: {{.Reason}}",
	CodeProcessingFailed:        "The command could not be processed. Check the server logs for details.",
	CodeInstanceChoked:          "This instance is not accepting commands. Check the server logs for details.",
	CodeUnavailable:             "The service is temporarily unavailable. Try again later.",
	CodeUnknownInstanceType:     "Unknown instance type {{.InstanceType}}.",
	CodeNotFound:                "Not found.",
}

var ptBR = map[Code]string{
	CodeUnknown:                 "Ocorreu um erro inesperado.",
	CodeCommandInvalid:          "Este comando não pode ser aceito agora.",
	CodeCommandValidationFailed: "O comando é inválido: {{.Reason}}",
	CodeProcessingFailed:        "Não foi possível processar o comando. Consulte os logs do servidor para detalhes.",
	CodeInstanceChoked:          "Esta instância não está aceitando comandos. Consulte os logs do servidor para detalhes.",
	CodeUnavailable:             "O serviço está temporariamente indisponível. Tente novamente mais tarde.",
	CodeUnknownInstanceType:     "Tipo de instância desconhecido {{.InstanceType}}.",
	CodeNotFound:                "Não encontrado.",
}
