// file: internal/dataerr/messages.go
// version: 1.0.0
// guid: 6e8a0c2e-4f6b-4d8a-b1c3-e5f7a9b1c3d5

package dataerr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported user-facing languages, first is the fallback.
var Supported = []language.Tag{language.Arabic, language.French, language.English}

var (
	userCatalog = catalog.NewBuilder(catalog.Fallback(language.Arabic))
	matcher     = language.NewMatcher(Supported)
)

// One message per kind, keyed by the kind code.
var userMessages = map[Kind]map[language.Tag]string{
	KindNetwork: {
		language.Arabic:  "مشكلة في الاتصال، تحقق من شبكتك ثم أعد المحاولة",
		language.French:  "Problème de connexion, vérifiez votre réseau puis réessayez",
		language.English: "Connectivity problem, check your network and try again",
	},
	KindServer: {
		language.Arabic:  "البيانات غير متاحة مؤقتا، حاول لاحقا",
		language.French:  "Données temporairement indisponibles, réessayez plus tard",
		language.English: "Data temporarily unavailable, try again later",
	},
	KindNotFound: {
		language.Arabic:  "بيانات هذه الدورة غير متوفرة حاليا",
		language.French:  "Les données de cette session sont introuvables",
		language.English: "Data for this session could not be found",
	},
	KindChunkNotFound: {
		language.Arabic:  "جزء من البيانات غير متوفر، حاول لاحقا",
		language.French:  "Une partie des données est introuvable, réessayez plus tard",
		language.English: "Part of the data is missing, try again later",
	},
	KindDataFormat: {
		language.Arabic:  "البيانات المستلمة تالفة، حاول لاحقا",
		language.French:  "Les données reçues sont invalides, réessayez plus tard",
		language.English: "Received data is invalid, try again later",
	},
	KindEmptyChunk: {
		language.Arabic:  "البيانات المستلمة فارغة، حاول لاحقا",
		language.French:  "Les données reçues sont vides, réessayez plus tard",
		language.English: "Received data is empty, try again later",
	},
	KindConcurrentOperation: {
		language.Arabic:  "بحث آخر قيد التنفيذ، انتظر قليلا",
		language.French:  "Une autre recherche est en cours, patientez",
		language.English: "Another lookup is in progress, please wait",
	},
	KindInvalidSession: {
		language.Arabic:  "الدورة المطلوبة غير موجودة",
		language.French:  "La session demandée n'existe pas",
		language.English: "The requested session does not exist",
	},
	KindUnknown: {
		language.Arabic:  "حدث خطأ غير متوقع",
		language.French:  "Une erreur inattendue s'est produite",
		language.English: "An unexpected error occurred",
	},
}

func init() {
	for kind, byLang := range userMessages {
		for tag, msg := range byLang {
			if err := userCatalog.SetString(tag, kind.String(), msg); err != nil {
				panic(err)
			}
		}
	}
}

// MatchLanguage picks the best supported language for an Accept-Language
// header or a bare tag such as "fr".
func MatchLanguage(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return Supported[0]
	}
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}

// Localized returns the user-facing message for e in the given language.
func (e *Error) Localized(tag language.Tag) string {
	return Message(e.Kind, tag)
}

// Message returns the user-facing message for a kind.
func Message(kind Kind, tag language.Tag) string {
	p := message.NewPrinter(tag, message.Catalog(userCatalog))
	return p.Sprintf(message.Key(kind.String(), userMessages[kind][language.English]))
}

// UserMessage returns the user-facing message for any error; errors that
// were never classified get the generic message.
func UserMessage(err error, tag language.Tag) string {
	return Message(KindOf(err), tag)
}
