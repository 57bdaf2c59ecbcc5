package i18n

import "strings"

var translations = map[string]string{
	"invalid request":                              "درخواست نامعتبر است",
	"failed to generate token":                     "خطا در تولید توکن",
	"missing authorization token":                  "توکن احراز هویت ارسال نشده است",
	"invalid token":                                "توکن نامعتبر است",
	"session not found":                            "نشست یافت نشد",
	"unauthorized":                                 "دسترسی غیرمجاز",
	"forbidden":                                    "دسترسی غیرمجاز",
	"only admins can clear the chat":               "فقط مدیر می تواند گفتگو را پاک کند",
	"failed to fetch messages":                     "خطا در دریافت پیام ها",
	"failed to create message":                     "خطا در ایجاد پیام",
	"failed to clear messages":                     "خطا در پاک کردن پیام ها",
	"message is required":                          "متن پیام الزامی است",
	"invalid after cursor":                         "پارامتر after نامعتبر است",
	"file is required":                             "فایل الزامی است",
	"file too large":                               "حجم فایل بیش از حد مجاز است",
	"invalid filename":                             "نام فایل نامعتبر است",
	"unsupported file type":                        "نوع فایل پشتیبانی نمی شود",
	"failed to save file":                          "خطا در ذخیره فایل",
	"failed to fetch profile":                      "خطا در دریافت پروفایل",
	"failed to logout":                             "خطا در خروج از حساب",
	"websocket upgrade failed":                     "خطا در برقراری اتصال وب سوکت",
	"rate limiter error":                           "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":                          "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":                        "خطای داخلی سرور",
	"storage unavailable":                          "ذخیره سازی در دسترس نیست",
	"not found":                                    "یافت نشد",
	"username already exists":                      "این نام کاربری قبلا ثبت شده است",
	"invalid username or password":                 "نام کاربری یا رمز عبور اشتباه است",
	"password must be at least 6 characters":       "رمز عبور باید حداقل ۶ کاراکتر باشد",
	"username must be between 3 and 32 characters": "نام کاربری باید بین ۳ تا ۳۲ کاراکتر باشد",
	"username can only contain letters, numbers, and underscores": "نام کاربری فقط می تواند شامل حروف، اعداد و زیرخط باشد",
}

var prefixTranslations = map[string]string{
	"invalid input:":           "ورودی نامعتبر است",
	"storage unavailable:":     "ذخیره سازی در دسترس نیست",
	"failed to hash password:": "خطا در پردازش رمز عبور",
	"failed to parse token:":   "توکن نامعتبر است",
}

// Translate returns the Persian rendering of message, or message itself.
func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

// Localize translates message when the Accept-Language header prefers Persian.
func Localize(acceptLanguage, message string) string {
	lang := strings.ToLower(strings.TrimSpace(acceptLanguage))
	if strings.HasPrefix(lang, "fa") {
		return Translate(message)
	}
	return message
}
